package streams

import (
	"context"

	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
	"github.com/vnykmshr/streamkit/pkg/queue"
)

// writeEntry is one queued sink operation: a chunk, or the close sentinel.
type writeEntry[T any] struct {
	chunk T
	close bool
}

// WritableController mediates between a writable stream's queue and its
// underlying sink. The sink receives it to error the stream mid-write and to
// observe the abort signal.
type WritableController[T any] struct {
	stream   *WritableStream[T]
	queue    *queue.SizedQueue[writeEntry[T]]
	strategy QueuingStrategy[T]

	writeFn func(chunk T, c *WritableController[T]) error
	closeFn func() error
	abortFn func(reason error) error

	started    bool
	processing bool

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Error errors the stream from inside the sink. Queued writes are discarded
// once any in-flight operation settles.
func (c *WritableController[T]) Error(err error) {
	if err == nil {
		err = ErrStreamErrored
	}
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Writable {
		return
	}
	c.clearAlgorithmsLocked()
	s.startErroringLocked(err)
}

// Signal returns a context that is canceled when the stream is aborted; its
// cause is the abort reason. A long-running sink write selects on it to stop
// early.
func (c *WritableController[T]) Signal() context.Context {
	return c.ctx
}

func (c *WritableController[T]) desiredSizeLocked() float64 {
	return c.strategy.HighWaterMark - c.queue.TotalSize()
}

func (c *WritableController[T]) clearAlgorithmsLocked() {
	c.writeFn = nil
	c.closeFn = nil
	c.abortFn = nil
	c.strategy.Size = func(T) float64 { return 1 }
}

func (c *WritableController[T]) enqueueCloseLocked() {
	_ = c.queue.Enqueue(writeEntry[T]{close: true}, 0)
}

func (c *WritableController[T]) enqueueWriteLocked(chunk T, size float64) {
	_ = c.queue.Enqueue(writeEntry[T]{chunk: chunk}, size)
}

// advance drains the queue into the sink, one operation at a time. It
// returns immediately when an operation is already in flight; the completion
// handler re-invokes it.
func (c *WritableController[T]) advance() {
	s := c.stream
	s.mu.Lock()

	if !c.started || c.processing || s.inFlightWrite != nil || s.inFlightClose != nil {
		s.mu.Unlock()
		return
	}
	if s.state == WritableErroring {
		s.finishErroringLocked()
		s.mu.Unlock()
		return
	}
	entry, ok := c.queue.Peek()
	if !ok {
		s.mu.Unlock()
		return
	}

	if entry.close {
		c.processCloseLocked()
	} else {
		c.processWriteLocked(entry.chunk)
	}
	s.mu.Unlock()
}

// processWriteLocked marks the oldest write request in flight and runs the
// sink's write algorithm off the lock.
func (c *WritableController[T]) processWriteLocked(chunk T) {
	s := c.stream

	s.inFlightWrite = s.writeRequests[0]
	s.writeRequests = s.writeRequests[1:]
	c.processing = true
	writeFn := c.writeFn

	go func() {
		var err error
		if writeFn != nil {
			err = writeFn(chunk, c)
		}

		s.mu.Lock()
		c.processing = false
		inFlight := s.inFlightWrite
		s.inFlightWrite = nil

		if err != nil {
			inFlight.Reject(err)
			inFlight.MarkHandled()
			if s.state == Writable {
				c.clearAlgorithmsLocked()
			}
			s.startErroringLocked(err)
			if s.state == WritableErroring {
				s.finishErroringLocked()
			}
			s.mu.Unlock()
			return
		}

		inFlight.Resolve(struct{}{})
		c.queue.Dequeue()
		if !s.closeQueuedLocked() && s.state == Writable {
			s.updateBackpressureLocked()
		}
		s.mu.Unlock()

		metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(kindWritable).Inc()
		c.advance()
	}()
}

// processCloseLocked runs the sink's close algorithm off the lock after the
// queue has fully drained.
func (c *WritableController[T]) processCloseLocked() {
	s := c.stream

	s.inFlightClose = s.closeRequest
	s.closeRequest = nil
	c.queue.Dequeue()
	c.processing = true
	closeFn := c.closeFn
	c.clearAlgorithmsLocked()

	go func() {
		var err error
		if closeFn != nil {
			err = closeFn()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		c.processing = false
		inFlight := s.inFlightClose
		s.inFlightClose = nil

		if err != nil {
			inFlight.Reject(err)
			inFlight.MarkHandled()
			if ab := s.abortRequest; ab != nil {
				ab.p.Reject(err)
				ab.p.MarkHandled()
				s.abortRequest = nil
			}
			if s.state == Writable {
				s.startErroringLocked(err)
			} else if s.state == WritableErroring {
				s.storedError = err
				s.finishErroringLocked()
			}
			return
		}

		// A close that wins the race against an abort still succeeds; the
		// pending abort settles successfully too.
		if s.state == WritableErroring {
			s.storedError = nil
			if ab := s.abortRequest; ab != nil {
				ab.p.Resolve(struct{}{})
				s.abortRequest = nil
			}
		}
		s.state = WritableClosed
		inFlight.Resolve(struct{}{})
		if w := s.writer; w != nil {
			w.closed.Resolve(struct{}{})
		}
		metrics.DefaultRegistry.StreamsFinished.WithLabelValues(kindWritable, "closed").Inc()
	}()
}

// write validates state, queues the chunk, and returns the promise that
// settles when the sink has consumed it.
func (c *WritableController[T]) write(chunk T) (*promise.Promise[struct{}], error) {
	s := c.stream

	s.mu.Lock()
	switch {
	case s.state == WritableErrored, s.state == WritableErroring:
		err := s.storedError
		s.mu.Unlock()
		return nil, err
	case s.state == WritableClosed || s.closeQueuedLocked():
		s.mu.Unlock()
		return nil, ErrCloseRequested
	}
	strategy := c.strategy
	s.mu.Unlock()

	// The size function is user code; run it off the lock.
	size, err := strategy.sizeOf(chunk)
	if err != nil {
		c.Error(err)
		return nil, err
	}

	s.mu.Lock()
	// The stream may have gone terminal while the size function ran.
	switch {
	case s.state == WritableErrored, s.state == WritableErroring:
		err := s.storedError
		s.mu.Unlock()
		return nil, err
	case s.state == WritableClosed || s.closeQueuedLocked():
		s.mu.Unlock()
		return nil, ErrCloseRequested
	}

	p := promise.New[struct{}]()
	s.writeRequests = append(s.writeRequests, p)
	c.enqueueWriteLocked(chunk, size)
	s.updateBackpressureLocked()
	s.mu.Unlock()

	metrics.DefaultRegistry.ChunksEnqueued.WithLabelValues(kindWritable).Inc()
	c.advance()
	return p, nil
}
