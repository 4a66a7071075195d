package streams

import (
	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
	"github.com/vnykmshr/streamkit/pkg/queue"
)

// DefaultController is the queue-owning half of a default readable stream.
// The underlying source uses it to enqueue chunks, close the stream, or
// error it; the engine uses it to schedule pulls against the high-water
// mark.
type DefaultController[T any] struct {
	stream   *ReadableStream[T]
	queue    *queue.SizedQueue[T]
	strategy QueuingStrategy[T]

	pullFn   func(*DefaultController[T]) error
	cancelFn func(reason error) *promise.Promise[struct{}]

	started        bool
	pulling        bool
	pullAgain      bool
	closeRequested bool
}

// Enqueue makes a chunk available to the stream's consumer. If a read is
// already waiting, the chunk is handed to it directly, bypassing the queue;
// otherwise it is buffered with its strategy-computed size. Enqueue fails
// once the stream is no longer readable or close has been requested.
func (c *DefaultController[T]) Enqueue(chunk T) error {
	s := c.stream

	s.mu.Lock()
	if s.state != Readable || c.closeRequested {
		s.mu.Unlock()
		return ErrStreamClosed
	}

	// Direct handoff: a parked read request gets the chunk with no queue
	// round-trip.
	if r, ok := s.reader.(*DefaultReader[T]); ok && r.pendingReadsLocked() > 0 {
		req := r.requests[0]
		r.requests = r.requests[1:]
		req.p.Resolve(readResult[T]{value: chunk})
		s.mu.Unlock()

		metrics.DefaultRegistry.ChunksEnqueued.WithLabelValues(s.kind).Inc()
		metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		c.maybePull()
		return nil
	}
	strategy := c.strategy
	s.mu.Unlock()

	// The size function is user code; run it off the lock.
	size, err := strategy.sizeOf(chunk)
	if err != nil {
		c.Error(err)
		return err
	}

	s.mu.Lock()
	if s.state != Readable || c.closeRequested {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	_ = c.queue.Enqueue(chunk, size)

	// A read may have parked while the size function ran; drain it from the
	// queue so neither side waits on the other.
	delivered := 0
	if r, ok := s.reader.(*DefaultReader[T]); ok {
		for r.pendingReadsLocked() > 0 && c.queue.Len() > 0 {
			queued, _ := c.queue.Dequeue()
			req := r.requests[0]
			r.requests = r.requests[1:]
			req.p.Resolve(readResult[T]{value: queued})
			delivered++
		}
	}
	desired := c.strategy.HighWaterMark - c.queue.TotalSize()
	s.mu.Unlock()

	if delivered > 0 {
		metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Add(float64(delivered))
	}

	metrics.DefaultRegistry.ChunksEnqueued.WithLabelValues(s.kind).Inc()
	if desired <= 0 {
		metrics.DefaultRegistry.DesiredSizeFloor.WithLabelValues(s.kind).Inc()
	}
	c.maybePull()
	return nil
}

// Close marks the stream as finished. If chunks are still buffered the close
// is deferred until the queue drains; no further enqueues are accepted
// either way.
func (c *DefaultController[T]) Close() error {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Readable || c.closeRequested {
		return ErrStreamClosed
	}
	c.closeRequested = true
	if c.queue.Len() == 0 {
		c.clearAlgorithmsLocked()
		s.closeLocked()
	}
	return nil
}

// Error moves the stream to the errored state, discarding buffered chunks
// and failing pending reads with err. A nil err is replaced by
// ErrStreamErrored. Error on an already-terminal stream is a no-op.
func (c *DefaultController[T]) Error(err error) {
	if err == nil {
		err = ErrStreamErrored
	}
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Readable {
		return
	}
	c.queue.Reset()
	c.clearAlgorithmsLocked()
	s.errorLocked(err)
}

// DesiredSize returns the remaining queue capacity (high-water mark minus
// queued size). ok is false when the stream is errored, mirroring a null
// desired size; a closed stream reports 0.
func (c *DefaultController[T]) DesiredSize() (float64, bool) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ReadableErrored:
		return 0, false
	case ReadableClosed:
		return 0, true
	}
	return c.strategy.HighWaterMark - c.queue.TotalSize(), true
}

func (c *DefaultController[T]) clearAlgorithmsLocked() {
	c.pullFn = nil
	c.strategy.Size = func(T) float64 { return 1 }
}

func (c *DefaultController[T]) pullStepsLocked(req *readRequest[T]) bool {
	s := c.stream
	if c.queue.Len() > 0 {
		chunk, _ := c.queue.Dequeue()
		if c.closeRequested && c.queue.Len() == 0 {
			c.clearAlgorithmsLocked()
			s.closeLocked()
		}
		req.p.Resolve(readResult[T]{value: chunk})
		metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		return true
	}

	r := s.reader.(*DefaultReader[T])
	r.requests = append(r.requests, req)
	return true
}

func (c *DefaultController[T]) cancelStepsLocked(reason error) func() *promise.Promise[struct{}] {
	c.queue.Reset()
	cancelFn := c.cancelFn
	c.cancelFn = nil
	c.clearAlgorithmsLocked()

	return func() *promise.Promise[struct{}] {
		if cancelFn == nil {
			return promise.Resolved(struct{}{})
		}
		return cancelFn(reason)
	}
}

func (c *DefaultController[T]) releaseStepsLocked() {}

// maybePull invokes the source's pull algorithm when the stream wants data.
// A pull already in flight is never re-entered; the request is coalesced
// into the pullAgain flag and replayed when the current pull settles.
func (c *DefaultController[T]) maybePull() {
	s := c.stream
	s.mu.Lock()
	if !c.shouldPullLocked() {
		s.mu.Unlock()
		return
	}
	if c.pulling {
		c.pullAgain = true
		s.mu.Unlock()
		return
	}
	c.pulling = true
	pull := c.pullFn
	s.mu.Unlock()

	go func() {
		var err error
		if pull != nil {
			err = pull(c)
		}

		s.mu.Lock()
		c.pulling = false
		again := c.pullAgain
		c.pullAgain = false
		s.mu.Unlock()

		if err != nil {
			c.Error(err)
			return
		}
		if again {
			c.maybePull()
		}
	}()
}

func (c *DefaultController[T]) shouldPullLocked() bool {
	s := c.stream
	if s.state != Readable || c.closeRequested || !c.started {
		return false
	}
	if c.pullFn == nil {
		return false
	}
	if r, ok := s.reader.(*DefaultReader[T]); ok && r.pendingReadsLocked() > 0 {
		return true
	}
	return c.strategy.HighWaterMark-c.queue.TotalSize() > 0
}
