package pmq

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/quiver/pmq/internal/arena"
)

// NewQueue creates an empty Queue. The queue's permanent dummy handle is
// allocated from its own dedicated mapping and freed by Destroy. The logger
// may be nil, in which case slog.Default() is used.
func NewQueue(logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := arena.Alloc(arenaHeaderSize + uniqueDataHeaderSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate the queue's dummy handle")
	}

	hdr := (*arenaHeader)(base)
	hdr.acquires = 1
	hdr.liveBytes = 0
	hdr.dedicated = nil

	stub := (*UniqueData)(unsafe.Add(base, arenaHeaderSize))
	stub.initHeader(OriginHeap, arenaHeaderChunks, 0)

	queue := &Queue{
		logger: logger,
		head:   stub,
		stub:   stub,
	}
	queue.tail = unsafe.Pointer(stub)

	return queue, nil
}
