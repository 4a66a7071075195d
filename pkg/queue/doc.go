/*
Package queue provides the sized FIFO used by stream controllers to track
buffered chunks together with their strategy-assigned sizes.

Every entry carries a size, and the queue maintains the running total of the
sizes still buffered. Stream controllers derive their desired size (high-water
mark minus total queued size) from this total, which makes it the backbone of
backpressure signaling.

Basic usage:

	q := queue.New[string]()
	_ = q.Enqueue("chunk-1", 1)
	_ = q.Enqueue("chunk-2", 4)

	q.TotalSize() // 5

	v, ok := q.Dequeue() // "chunk-1", true
	q.TotalSize()        // 4

The queue is a singly-linked list, so both Enqueue and Dequeue are O(1) with
no array-shift cost even when thousands of small chunks accumulate.

SizedQueue is not goroutine-safe; the owning controller guards it with the
stream's lock.
*/
package queue
