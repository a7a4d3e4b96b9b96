package pmq

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vkngwrapper/quiver/pmq/internal/arena"
)

// ChunkSize is the allocation granularity within a pool block, in bytes. A
// chunk matches the cache line so neighboring handles never share one.
const ChunkSize = 64

const (
	uniqueDataHeaderSize = 32
	arenaHeaderSize      = ChunkSize
	arenaHeaderChunks    = arenaHeaderSize / ChunkSize
)

// arenaHeader sits at the base of every region that backs handles: the first
// chunk of a pool block, or the prefix of a dedicated heap mapping. A handle
// reaches it by subtracting its chunk offset, so release needs no lookup
// structure of any kind. The counter gets a cache line to itself: remote
// releases must not false-share with payload chunks.
type arenaHeader struct {
	acquires  int64 // atomic: live handles carved from this region
	liveBytes int64 // atomic: payload bytes held by those handles
	dedicated *dedicatedAllocationList
	_         [ChunkSize - 24]byte
}

var (
	_ = [1]struct{}{}[unsafe.Sizeof(arenaHeader{})-arenaHeaderSize]
	_ = [1]struct{}{}[unsafe.Sizeof(UniqueData{})-uniqueDataHeaderSize]
)

// DataOrigin describes where a handle's backing memory came from and therefore
// how it is returned on release.
type DataOrigin uint32

const (
	OriginNone DataOrigin = iota
	OriginPool
	OriginHeap
)

var dataOriginMapping = map[DataOrigin]string{
	OriginNone: "OriginNone",
	OriginPool: "OriginPool",
	OriginHeap: "OriginHeap",
}

func (o DataOrigin) String() string {
	str, ok := dataOriginMapping[o]
	if !ok {
		return "unknown DataOrigin"
	}

	return str
}

// DataState is the consumer-visible handover state of a handle: StateRecorded
// while a handle is published to the queue but not yet consumed, StateUtilized
// once it has been consumed or while it serves as the queue's dummy.
type DataState uint32

const (
	StateUtilized DataState = iota
	StateRecorded
)

var dataStateMapping = map[DataState]string{
	StateUtilized: "StateUtilized",
	StateRecorded: "StateRecorded",
}

func (s DataState) String() string {
	str, ok := dataStateMapping[s]
	if !ok {
		return "unknown DataState"
	}

	return str
}

const handleReleased uint32 = 1 << 0

// UniqueData is the owning handle for one variable-sized payload. The struct
// is the 32-byte header placed immediately before the payload region, inside
// the chunk range (pool origin) or dedicated mapping (heap origin) that backs
// it. It carries the intrusive queue link, the reference count that delays
// reclamation until the queue has let go of the node, and enough provenance
// to return the memory without consulting the Pool.
//
// A handle is owned by exactly one party at a time: the producer that acquired
// it, the Queue between Push and Pop, or the consumer after Pop. Payloads are
// stored outside the garbage collector's view, so payload types must not
// contain Go pointers.
type UniqueData struct {
	next     unsafe.Pointer // atomic: the next published handle in the queue
	refs     int32          // atomic: owner reference + queue reference
	blockOff uint32         // chunks from this header back to the arenaHeader
	origin   DataOrigin
	state    DataState
	size     uint32
	flags    uint32 // atomic: handleReleased
}

func (u *UniqueData) initHeader(origin DataOrigin, blockOff uint32, size uint32) {
	u.next = nil
	u.refs = 1
	u.blockOff = blockOff
	u.origin = origin
	u.state = StateUtilized
	u.size = size
	u.flags = 0
}

// State returns the handover state of this handle.
func (u *UniqueData) State() DataState {
	return u.state
}

// Origin returns the reclaim path of this handle's backing memory.
func (u *UniqueData) Origin() DataOrigin {
	return u.origin
}

// Size returns the payload capacity of this handle in bytes.
func (u *UniqueData) Size() int {
	return int(u.size)
}

// Raw returns a pointer to the payload region, which begins immediately after
// the header.
func (u *UniqueData) Raw() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(u), uniqueDataHeaderSize)
}

// Bytes returns the payload region as a byte slice of the handle's capacity.
func (u *UniqueData) Bytes() []byte {
	return unsafe.Slice((*byte)(u.Raw()), u.size)
}

// Release returns the handle's memory to its origin: pool handles decrement
// their source block's live-handle counter, heap handles unmap their dedicated
// region once the queue has also let go of the node. Releasing a handle twice
// is a no-op while its memory is still live; a released handle must not be
// used afterward.
func (u *UniqueData) Release() {
	if u == nil {
		return
	}
	if !atomic.CompareAndSwapUint32(&u.flags, 0, handleReleased) {
		return
	}

	u.releaseRef()
}

func (u *UniqueData) addRef() {
	atomic.AddInt32(&u.refs, 1)
}

func (u *UniqueData) releaseRef() {
	newRefs := atomic.AddInt32(&u.refs, -1)
	if newRefs > 0 {
		return
	} else if newRefs < 0 {
		panic(fmt.Sprintf("handle with origin %s was over-released", u.origin.String()))
	}

	u.reclaim()
}

func (u *UniqueData) reclaim() {
	base := unsafe.Add(unsafe.Pointer(u), -int(u.blockOff)*ChunkSize)
	hdr := (*arenaHeader)(base)

	switch u.origin {
	case OriginPool:
		atomic.AddInt64(&hdr.liveBytes, -int64(u.size))
		atomic.AddInt64(&hdr.acquires, -1)
	case OriginHeap:
		if hdr.dedicated != nil {
			hdr.dedicated.unregister(int(u.size))
		}
		arena.Free(base, arenaHeaderSize+uniqueDataHeaderSize+int(u.size))
	default:
		panic(fmt.Sprintf("attempted to reclaim a handle with origin %s", u.origin.String()))
	}
}

func (u *UniqueData) loadNext() *UniqueData {
	return (*UniqueData)(atomic.LoadPointer(&u.next))
}

func (u *UniqueData) storeNext(next *UniqueData) {
	atomic.StorePointer(&u.next, unsafe.Pointer(next))
}

// Emplace returns the payload region as a *T so the caller can construct a T
// in place. T must fit the handle's capacity and must not contain Go pointers.
func Emplace[T any](u *UniqueData) *T {
	var zero T
	if int(unsafe.Sizeof(zero)) > int(u.size) {
		panic(fmt.Sprintf("attempted to emplace a %d-byte value into a handle with a %d-byte payload", unsafe.Sizeof(zero), u.size))
	}

	return (*T)(u.Raw())
}

// Get returns the payload region as a *T. T must fit the handle's capacity.
func Get[T any](u *UniqueData) *T {
	return Emplace[T](u)
}
