package pmq

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/quiver/memutils"
	"github.com/vkngwrapper/quiver/pmq/internal/arena"
	"github.com/vkngwrapper/quiver/pmq/internal/utils"
)

// Pool serves variable-sized handle allocations from a growable list of
// chunked blocks. Allocation is single-threaded per Pool unless the pool was
// created with PoolCreateSynchronized; releasing handles is safe from any
// thread either way, because releases touch only the atomic counters at the
// base of each block.
type Pool struct {
	logger *slog.Logger
	mutex  utils.OptionalRWMutex

	blockList blockList
	dedicated dedicatedAllocationList

	flags     PoolCreateFlags
	destroyed bool
}

func (p *Pool) maxPayload() int {
	return p.blockList.chunksPerBlock*ChunkSize - uniqueDataHeaderSize
}

// TryAcquire returns a handle with capacity for a size-byte payload, or nil if
// no existing block can serve the request. It never grows the pool. Previously
// returned handles remain valid either way.
func (p *Pool) TryAcquire(size int) *UniqueData {
	if size < 0 {
		panic("attempted to acquire a handle with a negative payload size")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if size > p.maxPayload() {
		return nil
	}

	return p.acquireFromBlocks(size)
}

// Acquire returns a handle with capacity for a size-byte payload, appending a
// fresh block to the pool if no existing block can serve the request. It fails
// only when the system allocator does, or when the payload cannot fit any
// block (use AcquireHeap for those).
func (p *Pool) Acquire(size int) (*UniqueData, error) {
	if size < 0 {
		panic("attempted to acquire a handle with a negative payload size")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if size > p.maxPayload() {
		return nil, errors.Newf("a %d-byte payload cannot fit a block of %d chunks: use AcquireHeap", size, p.blockList.chunksPerBlock)
	}

	data := p.acquireFromBlocks(size)
	if data != nil {
		return data, nil
	}

	err := p.blockList.createBlock()
	if err != nil {
		return nil, err
	}

	data = p.acquireFromBlocks(size)
	if data == nil {
		panic("a freshly-created block failed to serve a payload that fits a block")
	}

	return data, nil
}

func (p *Pool) acquireFromBlocks(size int) *UniqueData {
	ptr, blockOff, ok := p.blockList.tryAcquire(size)
	if !ok {
		return nil
	}

	data := (*UniqueData)(ptr)
	data.initHeader(OriginPool, blockOff, uint32(size))
	return data
}

// AcquireHeap returns a handle backed by its own dedicated mapping instead of
// a pool block, under the same handle ABI. It serves payloads too large for a
// block, or callers that specifically want memory with no block to drain.
// AcquireHeap is safe from any thread regardless of pool flags.
func (p *Pool) AcquireHeap(size int) (*UniqueData, error) {
	if size < 0 {
		panic("attempted to acquire a handle with a negative payload size")
	}

	base, err := arena.Alloc(arenaHeaderSize + uniqueDataHeaderSize + size)
	if err != nil {
		return nil, err
	}

	hdr := (*arenaHeader)(base)
	hdr.acquires = 1
	hdr.liveBytes = int64(size)
	hdr.dedicated = &p.dedicated

	data := (*UniqueData)(unsafe.Add(base, arenaHeaderSize))
	data.initHeader(OriginHeap, arenaHeaderChunks, uint32(size))

	p.dedicated.register(size)
	return data, nil
}

// HasNoAllocations returns true when every handle carved from this pool has
// been fully released, including the queue's references to enqueued handles.
func (p *Pool) HasNoAllocations() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.blockList.hasNoAllocations() && p.dedicated.IsEmpty()
}

func (p *Pool) Validate() error {
	err := p.blockList.Validate()
	if err != nil {
		return err
	}

	return p.dedicated.Validate()
}

// AddDetailedStatistics accumulates this pool's block and handle population
// into stats.
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.blockList.addDetailedStatistics(stats)
	p.dedicated.addDetailedStatistics(stats)
}

// BuildStatsString dumps this pool's population as a JSON string. When
// detailedMap is true, the dump includes a per-block breakdown.
func (p *Pool) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	p.AddDetailedStatistics(&stats)

	totalObj := rootObj.Name("Total").Object()
	stats.PrintJson(&totalObj)
	totalObj.End()

	if detailedMap {
		p.mutex.RLock()

		blocksObj := rootObj.Name("Blocks").Object()
		p.blockList.printDetailedMap(blocksObj)
		blocksObj.End()

		dedicatedObj := rootObj.Name("DedicatedAllocations").Object()
		dedicatedObj.Name("Count").Int(int(p.dedicated.liveCount()))
		dedicatedObj.Name("Bytes").Int(int(p.dedicated.liveBytes()))
		dedicatedObj.End()

		p.mutex.RUnlock()
	}

	rootObj.End()
	return string(writer.Bytes())
}

// Destroy frees the pool's blocks. Every handle carved from the pool must have
// been released first; Destroy fails, and frees nothing beyond the point of
// failure, if any handle is still live.
func (p *Pool) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return errors.New("attempted to destroy a pool that has already been destroyed")
	}

	memutils.DebugValidate(p)

	if !p.dedicated.IsEmpty() {
		return errors.Newf("the pool still has %d dedicated allocations that remain unfreed", p.dedicated.liveCount())
	}

	err := p.blockList.destroy()
	if err != nil {
		return err
	}

	p.destroyed = true
	return nil
}

// AcquireFor acquires a handle sized for a T and returns the payload region as
// a *T for in-place construction. T must not contain Go pointers.
func AcquireFor[T any](p *Pool) (*UniqueData, *T, error) {
	var zero T

	data, err := p.Acquire(int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, nil, err
	}

	return data, Emplace[T](data), nil
}

// TryAcquireFor is AcquireFor without pool growth: it returns nil handles when
// no existing block can serve a T-sized payload.
func TryAcquireFor[T any](p *Pool) (*UniqueData, *T) {
	var zero T

	data := p.TryAcquire(int(unsafe.Sizeof(zero)))
	if data == nil {
		return nil, nil
	}

	return data, Emplace[T](data)
}
