package streams

import (
	"context"
	"sync"

	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
	"github.com/vnykmshr/streamkit/pkg/queue"
)

// UnderlyingSink supplies the callbacks that drive a writable stream. All
// callbacks are optional. Write, Close and Abort run on engine goroutines,
// one at a time; returning an error errors the stream.
type UnderlyingSink[T any] struct {
	// Start is invoked once during construction, before any write.
	Start func(*WritableController[T]) error

	// Write receives one chunk. It is never invoked concurrently with
	// itself, Close or Abort.
	Write func(chunk T, c *WritableController[T]) error

	// Close flushes and releases the sink after the final write completes.
	Close func() error

	// Abort tears the sink down after an abort, with the abort reason.
	Abort func(reason error) error
}

// pendingAbort records an abort requested while writes were still settling.
// Its promise settles once the sink's abort algorithm has run (or been
// skipped because the stream was already erroring).
type pendingAbort struct {
	p                  *promise.Promise[struct{}]
	reason             error
	wasAlreadyErroring bool
}

// WritableStream is a destination for chunks of type T, written through an
// exclusive writer and drained into an underlying sink one chunk at a time.
// States move writable -> erroring -> errored, or writable -> closed; the
// intermediate erroring state lets an in-flight sink operation finish before
// the error is surfaced.
type WritableStream[T any] struct {
	mu          sync.Mutex
	state       WritableState
	storedError error
	writer      *Writer[T]
	controller  *WritableController[T]

	writeRequests []*promise.Promise[struct{}]
	inFlightWrite *promise.Promise[struct{}]
	inFlightClose *promise.Promise[struct{}]
	closeRequest  *promise.Promise[struct{}]
	abortRequest  *pendingAbort
	backpressure  bool
}

// NewWritable creates a writable stream with the default strategy (each
// chunk counts as 1, high-water mark 1).
func NewWritable[T any](sink UnderlyingSink[T]) *WritableStream[T] {
	s, _ := NewWritableWithStrategy(sink, DefaultQueuingStrategy[T]())
	return s
}

// NewWritableWithStrategy creates a writable stream with an explicit queuing
// strategy. It returns an error only for an invalid high-water mark.
func NewWritableWithStrategy[T any](sink UnderlyingSink[T], strategy QueuingStrategy[T]) (*WritableStream[T], error) {
	strategy, err := strategy.validate()
	if err != nil {
		return nil, err
	}

	s := &WritableStream[T]{state: Writable}
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &WritableController[T]{
		stream:   s,
		queue:    queue.New[writeEntry[T]](),
		strategy: strategy,
		writeFn:  sink.Write,
		closeFn:  sink.Close,
		abortFn:  sink.Abort,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.controller = c
	metrics.DefaultRegistry.StreamsOpened.WithLabelValues(kindWritable).Inc()

	s.mu.Lock()
	s.backpressure = c.desiredSizeLocked() <= 0
	s.mu.Unlock()

	if sink.Start != nil {
		if err := sink.Start(c); err != nil {
			s.mu.Lock()
			c.started = true
			s.startErroringLocked(err)
			s.mu.Unlock()
			return s, nil
		}
	}
	s.mu.Lock()
	c.started = true
	s.mu.Unlock()
	c.advance()
	return s, nil
}

// State returns the stream's lifecycle state.
func (s *WritableStream[T]) State() WritableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the stored error of an erroring or errored stream, or nil.
func (s *WritableStream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storedError
}

// Locked reports whether a writer is currently attached.
func (s *WritableStream[T]) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

// GetWriter acquires the stream's exclusive writer. It fails with
// ErrStreamLocked while another writer is attached.
func (s *WritableStream[T]) GetWriter() (*Writer[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return nil, ErrStreamLocked
	}

	w := &Writer[T]{
		stream: s,
		ready:  promise.New[struct{}](),
		closed: promise.New[struct{}](),
	}
	switch s.state {
	case Writable:
		if !s.closeQueuedLocked() && s.backpressure {
			// ready stays pending until backpressure lifts
		} else {
			w.ready.Resolve(struct{}{})
		}
	case WritableErroring:
		w.ready.Reject(s.storedError)
		w.ready.MarkHandled()
	case WritableClosed:
		w.ready.Resolve(struct{}{})
		w.closed.Resolve(struct{}{})
	case WritableErrored:
		w.ready.Reject(s.storedError)
		w.ready.MarkHandled()
		w.closed.Reject(s.storedError)
		w.closed.MarkHandled()
	}
	s.writer = w
	return w, nil
}

// Abort aborts the stream: queued writes are discarded, pending write
// promises reject, and the sink's abort algorithm runs with the reason once
// any in-flight operation settles. Abort on a closed or errored stream is a
// no-op. It fails with ErrStreamLocked while a writer is attached.
func (s *WritableStream[T]) Abort(ctx context.Context, reason error) error {
	s.mu.Lock()
	if s.writer != nil {
		s.mu.Unlock()
		return ErrStreamLocked
	}
	s.mu.Unlock()
	return s.abortInternal(ctx, reason)
}

// Close closes the stream: queued writes drain, then the sink's close
// algorithm runs. It fails with ErrStreamLocked while a writer is attached.
func (s *WritableStream[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.writer != nil {
		s.mu.Unlock()
		return ErrStreamLocked
	}
	s.mu.Unlock()
	return s.closeInternal(ctx)
}

func (s *WritableStream[T]) abortInternal(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrCanceled
	}

	s.mu.Lock()
	if s.state == WritableClosed || s.state == WritableErrored {
		s.mu.Unlock()
		return nil
	}
	if s.abortRequest != nil {
		p := s.abortRequest.p
		s.mu.Unlock()
		_, err := p.Await(ctx)
		return err
	}

	s.controller.cancel(reason)

	wasErroring := s.state == WritableErroring
	if wasErroring {
		reason = s.storedError
	}
	ab := &pendingAbort{p: promise.New[struct{}](), reason: reason, wasAlreadyErroring: wasErroring}
	s.abortRequest = ab
	if !wasErroring {
		s.startErroringLocked(reason)
	}
	s.mu.Unlock()

	_, err := ab.p.Await(ctx)
	return err
}

func (s *WritableStream[T]) closeInternal(ctx context.Context) error {
	s.mu.Lock()
	if s.state == WritableClosed || s.state == WritableErrored {
		err := s.storedError
		s.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrStreamClosed
	}
	if s.closeRequest != nil || s.inFlightClose != nil {
		s.mu.Unlock()
		return ErrCloseRequested
	}

	req := promise.New[struct{}]()
	s.closeRequest = req
	if w := s.writer; w != nil && s.backpressure && s.state == Writable {
		w.ready.Resolve(struct{}{})
	}
	s.controller.enqueueCloseLocked()
	s.mu.Unlock()

	s.controller.advance()
	_, err := req.Await(ctx)
	return err
}

func (s *WritableStream[T]) closeQueuedLocked() bool {
	return s.closeRequest != nil || s.inFlightClose != nil
}

// startErroringLocked moves a writable stream into the erroring state. The
// actual transition to errored waits for any in-flight sink operation.
func (s *WritableStream[T]) startErroringLocked(reason error) {
	if s.state != Writable {
		return
	}
	s.state = WritableErroring
	s.storedError = reason

	if w := s.writer; w != nil {
		w.ensureReadyRejectedLocked(reason)
	}
	if s.inFlightWrite == nil && s.inFlightClose == nil && s.controller.started {
		s.finishErroringLocked()
	}
}

// finishErroringLocked completes the transition to errored: the queue is
// discarded, pending writes reject, and a pending abort request finally runs
// the sink's abort algorithm.
func (s *WritableStream[T]) finishErroringLocked() {
	s.state = WritableErrored
	s.controller.queue.Reset()
	storedError := s.storedError

	reqs := s.writeRequests
	s.writeRequests = nil
	for _, p := range reqs {
		p.Reject(storedError)
	}
	metrics.DefaultRegistry.StreamsFinished.WithLabelValues(kindWritable, "errored").Inc()

	ab := s.abortRequest
	s.abortRequest = nil
	if ab == nil {
		s.rejectCloseAndClosedLocked()
		return
	}
	if ab.wasAlreadyErroring {
		ab.p.Reject(storedError)
		ab.p.MarkHandled()
		s.rejectCloseAndClosedLocked()
		return
	}

	abortFn := s.controller.abortFn
	s.controller.clearAlgorithmsLocked()
	reason := ab.reason

	go func() {
		var err error
		if abortFn != nil {
			err = abortFn(reason)
		}

		s.mu.Lock()
		if err != nil {
			ab.p.Reject(err)
			ab.p.MarkHandled()
		} else {
			ab.p.Resolve(struct{}{})
		}
		s.rejectCloseAndClosedLocked()
		s.mu.Unlock()
	}()
}

func (s *WritableStream[T]) rejectCloseAndClosedLocked() {
	if s.state != WritableErrored {
		return
	}
	if s.closeRequest != nil && s.inFlightClose == nil {
		s.closeRequest.Reject(s.storedError)
		s.closeRequest.MarkHandled()
		s.closeRequest = nil
	}
	if w := s.writer; w != nil {
		w.closed.Reject(s.storedError)
		w.closed.MarkHandled()
	}
}

// updateBackpressureLocked recomputes backpressure and swaps the writer's
// ready promise on transitions.
func (s *WritableStream[T]) updateBackpressureLocked() {
	if s.state != Writable || s.closeQueuedLocked() {
		return
	}
	bp := s.controller.desiredSizeLocked() <= 0
	if bp == s.backpressure {
		return
	}
	s.backpressure = bp
	if w := s.writer; w != nil {
		if bp {
			w.ready = promise.New[struct{}]()
		} else {
			w.ready.Resolve(struct{}{})
		}
	}
	if bp {
		metrics.DefaultRegistry.BackpressureEvents.WithLabelValues(kindWritable, "applied").Inc()
	} else {
		metrics.DefaultRegistry.BackpressureEvents.WithLabelValues(kindWritable, "relieved").Inc()
	}
}
