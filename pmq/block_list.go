package pmq

import (
	"strconv"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/quiver/memutils"
	"golang.org/x/exp/slog"
)

// blockList is the Pool's growable collection of blocks with a round-robin
// cursor. Allocation attempts probe the current block and at most one
// successor; growth appends a fresh block and makes it current. The cursor is
// an index rather than a list-node reference so there is no list plumbing to
// maintain.
type blockList struct {
	logger *slog.Logger

	blocks         []*memoryBlock
	current        int
	chunksPerBlock int
	nextBlockId    int
}

func (l *blockList) init(logger *slog.Logger, chunksPerBlock int) {
	l.logger = logger
	l.chunksPerBlock = chunksPerBlock
}

func (l *blockList) createBlock() error {
	block := &memoryBlock{}
	err := block.init(l.logger, l.nextBlockId, l.chunksPerBlock)
	if err != nil {
		return err
	}
	l.nextBlockId++

	l.blocks = append(l.blocks, block)
	l.current = len(l.blocks) - 1

	l.logger.Debug("blockList::createBlock", slog.Int("block.id", block.id))
	return nil
}

// tryAcquire attempts to carve space for a header plus payloadBytes from the
// current block, advancing the cursor once on failure. It returns the span
// base and the chunk distance from the new handle back to its block's base.
func (l *blockList) tryAcquire(payloadBytes int) (unsafe.Pointer, uint32, bool) {
	chunks := memutils.ChunkSpan(uniqueDataHeaderSize+payloadBytes, ChunkSize)

	for attempt := 0; attempt < 2; attempt++ {
		block := l.blocks[l.current]

		ptr, chunkIndex, ok := block.tryAcquire(chunks, payloadBytes)
		if ok {
			return ptr, uint32(chunkIndex) + arenaHeaderChunks, true
		}

		l.current = (l.current + 1) % len(l.blocks)
	}

	return nil, 0, false
}

func (l *blockList) destroy() error {
	for _, block := range l.blocks {
		err := block.destroy()
		if err != nil {
			return err
		}
	}
	l.blocks = nil
	return nil
}

func (l *blockList) hasNoAllocations() bool {
	for _, block := range l.blocks {
		if !block.hasNoAllocations() {
			return false
		}
	}

	return true
}

func (l *blockList) Validate() error {
	if len(l.blocks) == 0 {
		return errors.New("the block list has no blocks")
	}
	if l.current < 0 || l.current >= len(l.blocks) {
		return errors.Errorf("the block cursor %d is outside the list's %d blocks", l.current, len(l.blocks))
	}

	for blockIndex, block := range l.blocks {
		if block == nil {
			return errors.Errorf("unexpected nil block at index %d", blockIndex)
		}

		err := block.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *blockList) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range l.blocks {
		block.addDetailedStatistics(stats)
	}
}

func (l *blockList) printDetailedMap(json jwriter.ObjectState) {
	for _, block := range l.blocks {
		hdr := block.hdr()

		blockObj := json.Name(strconv.Itoa(block.id)).Object()
		blockObj.Name("ChunkCount").Int(block.chunkCount)
		blockObj.Name("Offset").Int(block.offset)
		blockObj.Name("Sealed").Bool(block.sealed)
		blockObj.Name("Acquires").Int(int(hdr.acquires))
		blockObj.Name("LiveBytes").Int(int(hdr.liveBytes))
		blockObj.End()
	}
}
