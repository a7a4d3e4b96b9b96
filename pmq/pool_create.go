package pmq

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/quiver/pmq/internal/utils"
)

// PoolCreateFlags indicate specific pool behaviors to activate or deactivate
type PoolCreateFlags int32

const (
	// PoolCreateSynchronized guards the pool's allocation surface with an internal
	// mutex so that several producers may share one Pool. Without this flag, a
	// Pool may only be used by one producer at a time, although handles carved
	// from it may still be released from any thread.
	PoolCreateSynchronized PoolCreateFlags = 1 << iota
)

var poolCreateFlagsMapping = map[PoolCreateFlags]string{
	PoolCreateSynchronized: "PoolCreateSynchronized",
}

func (f PoolCreateFlags) String() string {
	str, ok := poolCreateFlagsMapping[f]
	if !ok {
		return "unknown PoolCreateFlags"
	}

	return str
}

// PoolCreateInfo contains the parameters of a new Pool
type PoolCreateInfo struct {
	// InitialBlockCount is the number of blocks the pool allocates up front. It
	// must be at least 1.
	InitialBlockCount int
	// ChunksPerBlock is the number of ChunkSize-byte chunks in each block. It
	// must be at least 1. The largest payload a block can serve is
	// ChunksPerBlock*ChunkSize minus the handle header; anything larger must go
	// through Pool.AcquireHeap.
	ChunksPerBlock int

	Flags PoolCreateFlags
}

// NewPool creates a Pool from the provided create info. The logger may be nil,
// in which case slog.Default() is used.
func NewPool(logger *slog.Logger, info PoolCreateInfo) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if info.InitialBlockCount < 1 {
		return nil, errors.Newf("PoolCreateInfo.InitialBlockCount is %d: a pool requires at least one block", info.InitialBlockCount)
	}
	if info.ChunksPerBlock < 1 {
		return nil, errors.Newf("PoolCreateInfo.ChunksPerBlock is %d: blocks require at least one chunk", info.ChunksPerBlock)
	}

	pool := &Pool{
		logger: logger,
		flags:  info.Flags,
		mutex: utils.OptionalRWMutex{
			UseMutex: info.Flags&PoolCreateSynchronized != 0,
		},
	}
	pool.blockList.init(logger, info.ChunksPerBlock)

	for i := 0; i < info.InitialBlockCount; i++ {
		err := pool.blockList.createBlock()
		if err != nil {
			_ = pool.blockList.destroy()
			return nil, err
		}
	}

	return pool, nil
}
