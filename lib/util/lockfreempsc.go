// Package util
//
// This file provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free producers: Push() never takes a lock, so firing an incident
//     while a store mutex is held cannot deadlock against the consumer
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are handed to exactly one goroutine through the
//     Recv() channel
//   - Drain on Close: values pushed before Close() are still delivered, then
//     the Recv() channel is closed
//   - No Strict FIFO Guarantee across producers: concurrent pushes are ordered
//     by which producer wins the tail CAS, a single producer is FIFO
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single element of the linked list
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[mpscNode[T]] // consumer side, always a sentinel
	tail   atomic.Pointer[mpscNode[T]] // producer side
	out    chan T
	done   chan struct{}
	closed atomic.Bool

	// the consumer parks on this condition when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &LockFreeMPSC[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push appends a value to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	var spins uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// another producer may already have moved the tail, that's fine
				q.tail.CompareAndSwap(tail, n)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// back off under contention
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves values from the list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			// help the go gc, next is the new sentinel
			next.value = zero
			continue
		}

		if q.closed.Load() {
			// a producer may have won the race against Close()
			if head.next.Load() == nil {
				return
			}
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns a receive-only channel for consuming from the queue.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Values already in the queue are still delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Done is closed once the queue is closed and every value was handed out.
func (q *LockFreeMPSC[T]) Done() <-chan struct{} {
	return q.done
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}
