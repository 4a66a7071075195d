package queue

import (
	"errors"
	"math"
)

// ErrInvalidSize is returned when enqueueing an entry whose size is negative,
// NaN, or infinite.
var ErrInvalidSize = errors.New("entry size must be a non-negative finite number")

// node is a singly-linked list element holding one queued entry.
type node[T any] struct {
	value T
	size  float64
	next  *node[T]
}

// SizedQueue is a FIFO of value/size pairs that maintains a running total of
// the sizes of the entries still queued. It is implemented as a singly-linked
// list with head and tail pointers so that Dequeue is O(1) regardless of how
// many entries pile up under backpressure.
//
// SizedQueue is not safe for concurrent use; callers synchronize access.
type SizedQueue[T any] struct {
	head   *node[T]
	tail   *node[T]
	length int
	total  float64
}

// New creates an empty SizedQueue.
func New[T any]() *SizedQueue[T] {
	return &SizedQueue[T]{}
}

// Enqueue appends a value with the given size to the back of the queue.
func (q *SizedQueue[T]) Enqueue(value T, size float64) error {
	if !validSize(size) {
		return ErrInvalidSize
	}

	n := &node[T]{value: value, size: size}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.length++
	q.total += size

	return nil
}

// EnqueueFront pushes a value with the given size onto the front of the
// queue. Byte stream controllers use this to return the unconsumed remainder
// of a partially-read entry.
func (q *SizedQueue[T]) EnqueueFront(value T, size float64) error {
	if !validSize(size) {
		return ErrInvalidSize
	}

	n := &node[T]{value: value, size: size, next: q.head}
	q.head = n
	if q.tail == nil {
		q.tail = n
	}
	q.length++
	q.total += size

	return nil
}

// Dequeue removes and returns the value at the front of the queue. The second
// return value is false if the queue is empty.
func (q *SizedQueue[T]) Dequeue() (T, bool) {
	if q.head == nil {
		var zero T
		return zero, false
	}

	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--

	// The total is the sum of the queued entry sizes; clamp defensively so
	// rounding of float sizes can never drive it negative.
	q.total -= n.size
	if q.total < 0 {
		q.total = 0
	}

	return n.value, true
}

// Peek returns the value at the front of the queue without removing it.
func (q *SizedQueue[T]) Peek() (T, bool) {
	if q.head == nil {
		var zero T
		return zero, false
	}
	return q.head.value, true
}

// Len returns the number of queued entries.
func (q *SizedQueue[T]) Len() int {
	return q.length
}

// TotalSize returns the running total of the sizes of all queued entries.
func (q *SizedQueue[T]) TotalSize() float64 {
	return q.total
}

// Reset discards all queued entries and zeroes the total size.
func (q *SizedQueue[T]) Reset() {
	q.head = nil
	q.tail = nil
	q.length = 0
	q.total = 0
}

func validSize(size float64) bool {
	return size >= 0 && !math.IsInf(size, 1) && !math.IsNaN(size)
}
