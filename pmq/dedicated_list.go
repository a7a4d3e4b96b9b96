package pmq

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/vkngwrapper/quiver/memutils"
)

// dedicatedAllocationList tracks the population of live heap-origin handles
// belonging to one Pool. Releases run on arbitrary threads and reach this
// structure through the handle's arenaHeader, so the bookkeeping is a pair of
// counters rather than a walkable list.
type dedicatedAllocationList struct {
	count int64 // atomic
	bytes int64 // atomic
}

func (l *dedicatedAllocationList) register(size int) {
	atomic.AddInt64(&l.bytes, int64(size))
	atomic.AddInt64(&l.count, 1)
}

func (l *dedicatedAllocationList) unregister(size int) {
	atomic.AddInt64(&l.bytes, -int64(size))
	atomic.AddInt64(&l.count, -1)
}

func (l *dedicatedAllocationList) IsEmpty() bool {
	return atomic.LoadInt64(&l.count) == 0
}

func (l *dedicatedAllocationList) liveCount() int64 {
	return atomic.LoadInt64(&l.count)
}

func (l *dedicatedAllocationList) liveBytes() int64 {
	return atomic.LoadInt64(&l.bytes)
}

func (l *dedicatedAllocationList) Validate() error {
	count := atomic.LoadInt64(&l.count)
	bytes := atomic.LoadInt64(&l.bytes)

	if count < 0 {
		return errors.Errorf("the listed number of dedicated allocations (%d) is negative", count)
	}
	if count == 0 && bytes != 0 {
		return errors.Errorf("no dedicated allocations are live, but %d dedicated bytes are", bytes)
	}

	return nil
}

func (l *dedicatedAllocationList) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	count := int(atomic.LoadInt64(&l.count))
	bytes := int(atomic.LoadInt64(&l.bytes))

	stats.BlockCount += count
	stats.BlockBytes += bytes
	stats.HandleCount += count
	stats.HandleBytes += bytes
}
