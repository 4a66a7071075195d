package streams

import (
	"context"

	"github.com/vnykmshr/streamkit/pkg/promise"
)

// Writer is the exclusive producer handle of a writable stream. At most one
// writer is attached to a stream at any moment; ReleaseLock detaches it so
// another can be acquired.
type Writer[T any] struct {
	stream   *WritableStream[T]
	ready    *promise.Promise[struct{}]
	closed   *promise.Promise[struct{}]
	released bool
}

// Write queues a chunk and blocks until the sink has consumed it, the stream
// terminates, or ctx is done. Writing does not wait for backpressure; a
// well-behaved producer awaits Ready first.
func (w *Writer[T]) Write(ctx context.Context, chunk T) error {
	s := w.stream
	s.mu.Lock()
	if w.released {
		s.mu.Unlock()
		return ErrWriterReleased
	}
	c := s.controller
	s.mu.Unlock()

	p, err := c.write(chunk)
	if err != nil {
		return err
	}
	_, err = p.Await(ctx)
	return err
}

// Close closes the stream through the writer: queued writes drain, then the
// sink's close algorithm runs.
func (w *Writer[T]) Close(ctx context.Context) error {
	s := w.stream
	s.mu.Lock()
	if w.released {
		s.mu.Unlock()
		return ErrWriterReleased
	}
	s.mu.Unlock()
	return s.closeInternal(ctx)
}

// Abort aborts the stream through the writer.
func (w *Writer[T]) Abort(ctx context.Context, reason error) error {
	s := w.stream
	s.mu.Lock()
	if w.released {
		s.mu.Unlock()
		return ErrWriterReleased
	}
	s.mu.Unlock()
	return s.abortInternal(ctx, reason)
}

// Ready returns the current backpressure promise: resolved while the stream
// wants more data, pending while the queue sits at or above its high-water
// mark, rejected once the stream errors. The promise is replaced on each
// backpressure transition, so callers re-fetch it per write.
func (w *Writer[T]) Ready() *promise.Promise[struct{}] {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	return w.ready
}

// Closed returns a promise that resolves when the stream closes and rejects
// when it errors or the writer is released.
func (w *Writer[T]) Closed() *promise.Promise[struct{}] {
	return w.closed
}

// DesiredSize returns the remaining queue capacity. ok is false when the
// stream is errored or the writer released; a closed stream reports 0.
func (w *Writer[T]) DesiredSize() (float64, bool) {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return 0, false
	}
	switch s.state {
	case WritableErrored, WritableErroring:
		return 0, false
	case WritableClosed:
		return 0, true
	}
	return s.controller.desiredSizeLocked(), true
}

// ReleaseLock detaches the writer from its stream. Its ready and closed
// promises reject with ErrWriterReleased; writes already queued still reach
// the sink, and the stream can be locked again.
func (w *Writer[T]) ReleaseLock() {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return
	}
	w.released = true

	w.ensureReadyRejectedLocked(ErrWriterReleased)
	if !w.closed.Settled() {
		w.closed.Reject(ErrWriterReleased)
	}
	w.closed.MarkHandled()
	s.writer = nil
}

// ensureReadyRejectedLocked rejects the ready promise, replacing it first if
// it already settled so the rejection is observable.
func (w *Writer[T]) ensureReadyRejectedLocked(reason error) {
	if w.ready.Settled() {
		w.ready = promise.New[struct{}]()
	}
	w.ready.Reject(reason)
	w.ready.MarkHandled()
}
