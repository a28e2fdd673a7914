// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// Features and Guarantees:
//
//   - Lock-Free: producers append with atomic operations only
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Non-blocking consumer: Pop and Drain never wait, Notify signals new items
//   - Single Consumer: only one goroutine may call Pop or Drain at a time
//   - No Strict FIFO Guarantee across producers: concurrent Push() calls are
//     ordered by completion, pushes of a single producer keep their order
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
// implemented as a linked list with a sentinel head.
type LockFreeMPSC[T interface{}] struct {
	head   atomic.Pointer[node[T]] // owned by the consumer
	tail   atomic.Pointer[node[T]]
	size   atomic.Int64
	notify chan struct{}
	closed atomic.Bool
}

// NewLockFreeMPSC creates a new lock-free multi-producer single-consumer queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		notify: make(chan struct{}, 1),
	}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Push adds an item to the queue.
// Returns false if value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)

				select {
				case q.notify <- struct{}{}:
				default:
				}
				return true
			}
		} else {
			// help a producer that appended but did not advance the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Pop removes and returns the oldest item without blocking.
//
// Thread-safety: Only one goroutine may consume at a time.
func (q *LockFreeMPSC[T]) Pop() (*T, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}

	value := next.value
	next.value = nil // the node becomes the new sentinel, help the gc
	q.head.Store(next)
	q.size.Add(-1)

	return value, true
}

// Drain pops up to max items (all items if max <= 0) and passes them to fn.
// It returns the number of drained items.
//
// Thread-safety: Only one goroutine may consume at a time.
func (q *LockFreeMPSC[T]) Drain(max int, fn func(*T)) int {
	n := 0
	for max <= 0 || n < max {
		v, ok := q.Pop()
		if !ok {
			break
		}
		fn(v)
		n++
	}
	return n
}

// Notify returns a channel that receives a signal after items were pushed.
// Signals coalesce, so a consumer has to drain the queue after each signal.
// The channel is never closed; use IsClosed to detect shutdown.
func (q *LockFreeMPSC[T]) Notify() <-chan struct{} {
	return q.notify
}

// Close prevents further writes. Items already in the queue can still be popped.
func (q *LockFreeMPSC[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		// wake a waiting consumer
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the approximate number of queued items.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.size.Load())
}
