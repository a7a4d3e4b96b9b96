package pmq

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/quiver/memutils"
	"github.com/vkngwrapper/quiver/pmq/internal/arena"
	"golang.org/x/exp/slog"
)

// memoryBlock is one contiguous arena: an arenaHeader chunk followed by
// chunkCount payload chunks. The bump cursor and sealed flag are owned by the
// thread currently allocating through the Pool; only the counters inside the
// arenaHeader are touched from other threads, when handles are released.
type memoryBlock struct {
	id         int
	logger     *slog.Logger
	base       unsafe.Pointer
	chunkCount int

	offset int
	sealed bool
}

func (b *memoryBlock) init(logger *slog.Logger, id int, chunkCount int) error {
	if b.base != nil {
		panic("attempting to initialize a memory block that is already in use")
	}

	base, err := arena.Alloc(arenaHeaderSize + chunkCount*ChunkSize)
	if err != nil {
		return err
	}

	b.id = id
	b.logger = logger
	b.base = base
	b.chunkCount = chunkCount
	b.offset = 0
	b.sealed = false

	hdr := b.hdr()
	hdr.acquires = 0
	hdr.liveBytes = 0
	hdr.dedicated = nil

	return nil
}

func (b *memoryBlock) hdr() *arenaHeader {
	return (*arenaHeader)(b.base)
}

func (b *memoryBlock) destroy() error {
	if b.base == nil {
		panic("attempting to destroy a memory block with no backing memory")
	}

	acquires := atomic.LoadInt64(&b.hdr().acquires)
	if acquires != 0 {
		b.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"[UNRELEASED MEMORY] block destroyed while handles are live",
			slog.Int("block.id", b.id),
			slog.Int64("acquires", acquires))

		return errors.Wrapf(memutils.OutstandingAllocationsError, "block %d still has %d live handles", b.id, acquires)
	}

	arena.Free(b.base, arenaHeaderSize+b.chunkCount*ChunkSize)
	b.base = nil
	return nil
}

// tryAcquire carves a span of chunks from the bump cursor and returns the span
// base and the chunk index it begins at. A request that does not fit the
// remaining space seals the block; a sealed block refuses all requests until
// every handle carved from it has been released, at which point the next
// attempt resets the cursor to chunk 0.
func (b *memoryBlock) tryAcquire(chunks int, payloadBytes int) (unsafe.Pointer, int, bool) {
	b.maybeReset()

	if b.sealed {
		return nil, 0, false
	}

	if chunks > b.chunkCount-b.offset {
		b.sealed = true
		return nil, 0, false
	}

	chunkIndex := b.offset
	ptr := unsafe.Add(b.base, arenaHeaderSize+chunkIndex*ChunkSize)

	b.offset += chunks
	if b.offset == b.chunkCount {
		b.sealed = true
	}

	hdr := b.hdr()
	atomic.AddInt64(&hdr.liveBytes, int64(payloadBytes))
	atomic.AddInt64(&hdr.acquires, 1)

	return ptr, chunkIndex, true
}

func (b *memoryBlock) maybeReset() {
	if !b.sealed {
		return
	}
	if atomic.LoadInt64(&b.hdr().acquires) != 0 {
		return
	}

	b.offset = 0
	b.sealed = false

	if memutils.DebugFill > 0 {
		for chunk := 0; chunk < b.chunkCount; chunk++ {
			memutils.WriteMagicValue(b.base, arenaHeaderSize+chunk*ChunkSize)
		}
	}

	b.logger.Debug("memoryBlock::reset", slog.Int("block.id", b.id))
}

func (b *memoryBlock) hasNoAllocations() bool {
	return atomic.LoadInt64(&b.hdr().acquires) == 0
}

func (b *memoryBlock) Validate() error {
	if b.base == nil {
		return errors.New("no backing memory for this memory block")
	}
	if b.offset < 0 || b.offset > b.chunkCount {
		return errors.Errorf("block %d has bump offset %d, which is outside its %d chunks", b.id, b.offset, b.chunkCount)
	}
	if b.offset == b.chunkCount && !b.sealed {
		return errors.Errorf("block %d is exactly full but has not been sealed", b.id)
	}

	hdr := b.hdr()
	acquires := atomic.LoadInt64(&hdr.acquires)
	liveBytes := atomic.LoadInt64(&hdr.liveBytes)
	if acquires < 0 {
		return errors.Errorf("block %d has a negative live-handle count %d", b.id, acquires)
	}
	if acquires == 0 && liveBytes != 0 {
		return errors.Errorf("block %d has no live handles but %d live payload bytes", b.id, liveBytes)
	}

	return nil
}

func (b *memoryBlock) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	hdr := b.hdr()

	stats.BlockCount++
	stats.BlockBytes += b.chunkCount * ChunkSize
	stats.HandleCount += int(atomic.LoadInt64(&hdr.acquires))
	stats.HandleBytes += int(atomic.LoadInt64(&hdr.liveBytes))

	if !b.sealed {
		stats.AddUnusedRange((b.chunkCount - b.offset) * ChunkSize)
	}
}
