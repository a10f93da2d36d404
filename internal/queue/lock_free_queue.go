package queue

import (
	"sync/atomic"
)

// itemNode represents a node in the lock free queue.
type itemNode[T any] struct {
	value T
	next  atomic.Pointer[itemNode[T]]
}

// lockFreeQueue is a lock-free, concurrent queue implementation.
// It provides efficient and thread-safe operations for enqueuing, dequeuing, and peeking at items.
//
// It implements the Queue interface and is safe for many producers and many consumers.
type lockFreeQueue[T any] struct {
	head   atomic.Pointer[itemNode[T]]
	tail   atomic.Pointer[itemNode[T]]
	length atomic.Int32
}

// NewLockFreeQueue creates a new lockFreeQueue and returns it as a Queue interface.
//
// lockFreeQueue is a lock-free, concurrent queue implementation.
// It provides efficient and thread-safe operations for enqueuing, dequeuing, and peeking at items.
func NewLockFreeQueue[T any]() Queue[T] {
	q := &lockFreeQueue[T]{}
	n := &itemNode[T]{}
	q.head.Store(n)
	q.tail.Store(n)

	return q
}

func (q *lockFreeQueue[T]) Reset() {
	n := &itemNode[T]{}
	q.head.Store(n)
	q.tail.Store(n)
	q.length.Store(0)
}

// Enqueue adds an item to the tail of the queue.
func (q *lockFreeQueue[T]) Enqueue(item T) {
	n := &itemNode[T]{value: item}
retry:
	tail := q.tail.Load()
	next := tail.next.Load()
	// Are tail and next consistent?
	if tail == q.tail.Load() {
		if next == nil {
			// Try to link node at the end of the linked list.
			if tail.next.CompareAndSwap(next, n) { // enqueue is done.
				// Try to swing tail to the inserted node.
				q.tail.CompareAndSwap(tail, n)
				q.length.Add(1)
				return
			}
		} else { // tail was not pointing to the last node
			// Try to swing tail to the next node.
			q.tail.CompareAndSwap(tail, next)
		}
	}

	goto retry
}

// Dequeue removes and returns the item at the head of the queue.
// The second return value is false if the queue is empty.
func (q *lockFreeQueue[T]) Dequeue() (T, bool) {
	var zero T
retry:
	head := q.head.Load()
	tail := q.tail.Load()
	next := head.next.Load()

	// Are head, tail, and next consistent?
	if head == q.head.Load() {
		// Is queue empty or tail falling behind?
		if head == tail {
			// Is queue empty?
			if next == nil {
				return zero, false
			}
			q.tail.CompareAndSwap(tail, next) // tail is falling behind, try to advance it.
		} else {
			// Read value before CAS, otherwise another dequeue might free the next node.
			data := next.value
			if q.head.CompareAndSwap(head, next) { // dequeue is done, return value.
				q.length.Add(-1)
				return data, true
			}
		}
	}

	goto retry
}

// Peek returns the item at the head of the queue without removing it.
// The second return value is false if the queue is empty.
func (q *lockFreeQueue[T]) Peek() (T, bool) {
	var zero T
retry:
	head := q.head.Load()
	tail := q.tail.Load()
	next := head.next.Load()

	// Are head, tail, and next consistent?
	if head == q.head.Load() {
		// Is queue empty or tail falling behind?
		if head != tail {
			return next.value, true
		}

		// Is queue empty?
		if next == nil {
			return zero, false
		}
		q.tail.CompareAndSwap(tail, next) // tail is falling behind, try to advance it.
	}

	goto retry
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *lockFreeQueue[T]) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of items in the queue.
func (q *lockFreeQueue[T]) Length() int {
	return int(q.length.Load())
}
