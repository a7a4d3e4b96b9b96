package pmq

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/quiver/memutils"
)

func TestPoolCreateInvalid(t *testing.T) {
	_, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 0, ChunksPerBlock: 4})
	require.Error(t, err)

	_, err = NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 0})
	require.Error(t, err)
}

func TestPoolAcquireRoundTrip(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, err := pool.Acquire(32)
	require.NoError(t, err)
	require.Equal(t, OriginPool, data.Origin())
	require.Equal(t, 32, data.Size())

	payload := data.Bytes()
	require.Len(t, payload, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := range payload {
		require.Equal(t, byte(i), payload[i])
	}

	require.False(t, pool.HasNoAllocations())
	data.Release()
	require.True(t, pool.HasNoAllocations())

	require.NoError(t, pool.Destroy())
}

func TestPoolTryAcquireExhaustion(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	// 32-byte payloads occupy exactly one chunk each alongside the handle header
	var handles []*UniqueData
	for i := 0; i < 4; i++ {
		data := pool.TryAcquire(32)
		require.NotNil(t, data)
		handles = append(handles, data)
		handles[i].Bytes()[0] = byte(i)
	}

	require.Nil(t, pool.TryAcquire(32))

	// Previously returned handles stay valid after an exhausted attempt
	for i, data := range handles {
		require.Equal(t, byte(i), data.Bytes()[0])
	}

	firstChunk := unsafe.Pointer(handles[0])
	for _, data := range handles {
		data.Release()
	}
	require.True(t, pool.HasNoAllocations())

	// The drained, sealed block resets: the next handle lands at chunk 0
	data := pool.TryAcquire(32)
	require.NotNil(t, data)
	require.Equal(t, firstChunk, unsafe.Pointer(data))

	data.Release()
	require.NoError(t, pool.Destroy())
}

func TestPoolAcquireGrows(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	var handles []*UniqueData
	for i := 0; i < 4; i++ {
		data, err := pool.Acquire(32)
		require.NoError(t, err)
		handles = append(handles, data)
	}

	require.Nil(t, pool.TryAcquire(32))

	// Acquire keeps going by appending a block
	data, err := pool.Acquire(32)
	require.NoError(t, err)
	require.NotNil(t, data)
	handles = append(handles, data)
	require.Len(t, pool.blockList.blocks, 2)

	for _, h := range handles {
		h.Release()
	}
	require.NoError(t, pool.Destroy())
}

func TestPoolMultiChunkSpans(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 8})
	require.NoError(t, err)

	// 100 bytes of payload plus the header spans 3 chunks
	data, err := pool.Acquire(100)
	require.NoError(t, err)
	require.Equal(t, 3, pool.blockList.blocks[0].offset)

	payload := data.Bytes()
	require.Len(t, payload, 100)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	for i := range payload {
		require.Equal(t, byte(i*3), payload[i])
	}

	data.Release()
	require.NoError(t, pool.Destroy())
}

func TestPoolPayloadTooLargeForBlock(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	tooBig := 4*ChunkSize - uniqueDataHeaderSize + 1
	require.Nil(t, pool.TryAcquire(tooBig))

	_, err = pool.Acquire(tooBig)
	require.Error(t, err)

	// The oversized request must not have sealed anything
	data := pool.TryAcquire(32)
	require.NotNil(t, data)
	data.Release()

	require.NoError(t, pool.Destroy())
}

func TestPoolAcquireHeap(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, err := pool.AcquireHeap(100000)
	require.NoError(t, err)
	require.Equal(t, OriginHeap, data.Origin())
	require.Equal(t, 100000, data.Size())

	payload := data.Bytes()
	payload[0] = 0xA5
	payload[99999] = 0x5A
	require.Equal(t, byte(0xA5), payload[0])
	require.Equal(t, byte(0x5A), payload[99999])

	// Destroy refuses to run while the dedicated allocation is live
	require.Error(t, pool.Destroy())

	data.Release()
	require.True(t, pool.HasNoAllocations())
	require.NoError(t, pool.Destroy())
}

func TestPoolDestroyWithLiveHandles(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, err := pool.Acquire(16)
	require.NoError(t, err)

	require.Error(t, pool.Destroy())

	data.Release()
	require.NoError(t, pool.Destroy())
	require.Error(t, pool.Destroy())
}

func TestPoolStatistics(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 2, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, err := pool.Acquire(32)
	require.NoError(t, err)
	heapData, err := pool.AcquireHeap(1000)
	require.NoError(t, err)

	var stats memutils.DetailedStatistics
	stats.Clear()
	pool.AddDetailedStatistics(&stats)

	require.Equal(t, 3, stats.BlockCount)
	require.Equal(t, 2*4*ChunkSize+1000, stats.BlockBytes)
	require.Equal(t, 2, stats.HandleCount)
	require.Equal(t, 1032, stats.HandleBytes)
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 3*ChunkSize, stats.UnusedRangeSizeMin)
	require.Equal(t, 4*ChunkSize, stats.UnusedRangeSizeMax)

	statsString := pool.BuildStatsString(true)
	require.Contains(t, statsString, `"Total"`)
	require.Contains(t, statsString, `"Blocks"`)
	require.Contains(t, statsString, `"DedicatedAllocations"`)

	data.Release()
	heapData.Release()
	require.NoError(t, pool.Destroy())
}

func TestPoolSynchronized(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{
		InitialBlockCount: 1,
		ChunksPerBlock:    8,
		Flags:             PoolCreateSynchronized,
	})
	require.NoError(t, err)

	const workers = 4
	const perWorker = 500

	handles := make(chan *UniqueData, workers*perWorker)
	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				data, err := pool.Acquire(16)
				if err != nil || data == nil {
					t.Error("synchronized acquire failed")
					return
				}
				handles <- data
			}
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[*UniqueData]struct{})
	for data := range handles {
		_, duplicated := seen[data]
		require.False(t, duplicated)
		seen[data] = struct{}{}
		data.Release()
	}
	require.Len(t, seen, workers*perWorker)

	require.True(t, pool.HasNoAllocations())
	require.NoError(t, pool.Destroy())
}

func TestEmplaceTooLargePanics(t *testing.T) {
	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, err := pool.Acquire(4)
	require.NoError(t, err)

	require.Panics(t, func() {
		Emplace[[64]byte](data)
	})

	data.Release()
	require.NoError(t, pool.Destroy())
}

func TestAcquireFor(t *testing.T) {
	type message struct {
		Kind    uint32
		Length  uint32
		Payload [24]byte
	}

	pool, err := NewPool(testLogger(), PoolCreateInfo{InitialBlockCount: 1, ChunksPerBlock: 4})
	require.NoError(t, err)

	data, msg, err := AcquireFor[message](pool)
	require.NoError(t, err)
	msg.Kind = 7
	msg.Length = 24
	msg.Payload[23] = 0xFF

	read := Get[message](data)
	require.Equal(t, uint32(7), read.Kind)
	require.Equal(t, byte(0xFF), read.Payload[23])

	data.Release()
	require.NoError(t, pool.Destroy())
}
