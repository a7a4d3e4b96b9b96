package pmq

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Queue is an intrusive multi-producer, single-consumer FIFO whose nodes are
// the UniqueData handles themselves, rooted by a permanent heap-origin dummy.
// Push is wait-free: one atomic exchange on the producer end plus a link
// store. Pop must only ever be called by one consumer thread.
//
// A node cannot be detached until its successor link has been stored, so the
// predecessor a producer links into is always live; the consumer's side is
// protected by each handle's reference count, which the queue holds from Push
// until the consumer has advanced past the node. Handles popped while they
// are still installed as the implicit dummy therefore stay safe even if the
// consumer releases them immediately.
type Queue struct {
	logger *slog.Logger

	// consumer side
	head      *UniqueData
	destroyed bool
	_         [40]byte

	// producer side
	tail unsafe.Pointer // atomic: the most recently published handle
	_    [56]byte

	count int64 // atomic
	stub  *UniqueData
}

// Push publishes a handle to the consumer. It is safe to call from any number
// of producer threads concurrently and returns false only for a nil handle.
// The producer must not touch the handle after Push returns. Pushes from a
// single producer are observed by the consumer in order; pushes from separate
// producers carry no mutual ordering.
func (q *Queue) Push(h *UniqueData) bool {
	if h == nil {
		return false
	}

	h.state = StateRecorded
	h.storeNext(nil)
	// The queue's reference: held until the consumer has advanced past this
	// node, which keeps the memory live while it still roots the chain.
	h.addRef()

	prev := (*UniqueData)(atomic.SwapPointer(&q.tail, unsafe.Pointer(h)))
	prev.storeNext(h)

	atomic.AddInt64(&q.count, 1)
	return true
}

// Pop returns the oldest published handle and marks it StateUtilized, or
// returns nil when no published handle is visible. Ownership of the returned
// handle transfers to the caller, who is expected to Release it. Only one
// consumer thread may call Pop.
func (q *Queue) Pop() *UniqueData {
	current := q.head

	next := current.loadNext()
	if next == nil {
		return nil
	}

	q.head = next
	if current != q.stub {
		current.releaseRef()
	}

	if next.loadNext() == nil {
		// next looks like the last node. Try to re-install the permanent dummy
		// behind it: if the exchange end still points at next, no producer holds
		// it as a pending predecessor and it can be detached outright, letting a
		// drained block quiesce instead of staying pinned under the final node.
		q.stub.storeNext(nil)
		if atomic.CompareAndSwapPointer(&q.tail, unsafe.Pointer(next), unsafe.Pointer(q.stub)) {
			q.head = q.stub
			next.releaseRef()
		}
	}

	if next.state != StateRecorded {
		panic("popped a handle that was never recorded")
	}
	next.state = StateUtilized

	atomic.AddInt64(&q.count, -1)
	return next
}

// Size returns a best-effort snapshot of the number of published,
// not-yet-consumed handles.
func (q *Queue) Size() int {
	count := atomic.LoadInt64(&q.count)
	if count < 0 {
		count = 0
	}

	return int(count)
}

// Destroy drains the queue, releasing every remaining published handle, and
// frees the dummy. It must run on the consumer thread after all producers have
// stopped. Handles popped before Destroy remain valid and consumer-owned.
func (q *Queue) Destroy() error {
	q.logger.Debug("Queue::Destroy")

	if q.destroyed {
		return errors.New("attempted to destroy a queue that has already been destroyed")
	}

	for h := q.Pop(); h != nil; h = q.Pop() {
		h.Release()
	}

	if q.head != q.stub {
		// The final popped node is still installed as the implicit dummy.
		q.head.releaseRef()
		q.head = q.stub
	}

	q.stub.releaseRef()
	q.destroyed = true
	return nil
}
