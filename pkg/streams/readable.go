package streams

import (
	"context"
	"sync"

	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
	"github.com/vnykmshr/streamkit/pkg/queue"
)

// UnderlyingSource supplies the callbacks that drive a readable stream. All
// callbacks are optional. Pull and Start run on engine goroutines and may
// block; returning an error errors the stream.
type UnderlyingSource[T any] struct {
	// Start is invoked once during construction, before any pull.
	Start func(*DefaultController[T]) error

	// Pull is invoked whenever the stream wants more data: a reader is
	// waiting, or the queue is below the high-water mark.
	Pull func(*DefaultController[T]) error

	// Cancel is invoked when the consumer cancels the stream, with the
	// cancellation reason.
	Cancel func(reason error) error
}

// ReadableStream is a source of chunks of type T, read through an exclusive
// reader and filled by an underlying source via its controller. A stream is
// created readable and transitions exactly once to closed or errored.
type ReadableStream[T any] struct {
	mu          sync.Mutex
	kind        string
	state       ReadableState
	storedError error
	disturbed   bool
	reader      streamReader[T]
	controller  readableController[T]
}

// readableController is the sealed set of controller variants. The default
// controller implements it for any T; the byte controller for T = []byte.
type readableController[T any] interface {
	// pullStepsLocked services a new read request: fulfill it from the queue
	// or park it. Reports whether pull scheduling should run afterwards.
	// Called with the stream lock held.
	pullStepsLocked(req *readRequest[T]) bool

	// cancelStepsLocked discards buffered state and returns a closure that
	// runs the cancel algorithm once the lock is released.
	cancelStepsLocked(reason error) func() *promise.Promise[struct{}]

	// releaseStepsLocked runs when the attached reader releases its lock.
	releaseStepsLocked()

	// maybePull runs the pull-if-needed check. Called without the lock.
	maybePull()
}

// streamReader is implemented by both reader variants so terminal
// transitions can notify whichever one is attached.
type streamReader[T any] interface {
	onCloseLocked()
	onErrorLocked(err error)
}

// readResult carries the outcome of one read: a chunk, or done.
type readResult[T any] struct {
	value T
	done  bool
}

type readRequest[T any] struct {
	p *promise.Promise[readResult[T]]
}

func newReadRequest[T any]() *readRequest[T] {
	return &readRequest[T]{p: promise.New[readResult[T]]()}
}

// NewReadable creates a readable stream with the default strategy (each
// chunk counts as 1, high-water mark 1). If the source's Start callback
// fails, the stream is created already errored.
func NewReadable[T any](source UnderlyingSource[T]) *ReadableStream[T] {
	s, _ := NewReadableWithStrategy(source, DefaultQueuingStrategy[T]())
	return s
}

// NewReadableWithStrategy creates a readable stream with an explicit queuing
// strategy. It returns an error only for an invalid high-water mark.
func NewReadableWithStrategy[T any](source UnderlyingSource[T], strategy QueuingStrategy[T]) (*ReadableStream[T], error) {
	strategy, err := strategy.validate()
	if err != nil {
		return nil, err
	}

	s := &ReadableStream[T]{kind: kindReadable}
	c := &DefaultController[T]{
		stream:   s,
		queue:    queue.New[T](),
		strategy: strategy,
		pullFn:   source.Pull,
		cancelFn: adaptCancel(source.Cancel),
	}
	s.controller = c
	metrics.DefaultRegistry.StreamsOpened.WithLabelValues(s.kind).Inc()

	s.startDefault(c, source.Start)
	return s, nil
}

// newReadableWithAlgorithms is the internal constructor used by tee and
// transform, whose cancel algorithms settle natively instead of running a
// user callback to completion.
func newReadableWithAlgorithms[T any](
	pull func(*DefaultController[T]) error,
	cancel func(reason error) *promise.Promise[struct{}],
	strategy QueuingStrategy[T],
) *ReadableStream[T] {
	strategy, _ = strategy.validate()
	s := &ReadableStream[T]{kind: kindReadable}
	c := &DefaultController[T]{
		stream:   s,
		queue:    queue.New[T](),
		strategy: strategy,
		pullFn:   pull,
		cancelFn: cancel,
	}
	s.controller = c
	metrics.DefaultRegistry.StreamsOpened.WithLabelValues(s.kind).Inc()
	s.startDefault(c, nil)
	return s
}

func (s *ReadableStream[T]) startDefault(c *DefaultController[T], start func(*DefaultController[T]) error) {
	if start != nil {
		if err := start(c); err != nil {
			c.Error(err)
			return
		}
	}
	s.mu.Lock()
	c.started = true
	s.mu.Unlock()
	c.maybePull()
}

// adaptCancel lifts an optional user cancel callback into the internal
// promise-returning form. The callback runs on its own goroutine.
func adaptCancel(fn func(reason error) error) func(error) *promise.Promise[struct{}] {
	return func(reason error) *promise.Promise[struct{}] {
		p := promise.New[struct{}]()
		if fn == nil {
			p.Resolve(struct{}{})
			return p
		}
		go func() {
			if err := fn(reason); err != nil {
				p.Reject(err)
			} else {
				p.Resolve(struct{}{})
			}
		}()
		return p
	}
}

// State returns the stream's lifecycle state.
func (s *ReadableStream[T]) State() ReadableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the stored error of an errored stream, or nil.
func (s *ReadableStream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storedError
}

// Locked reports whether a reader is currently attached.
func (s *ReadableStream[T]) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// Disturbed reports whether the stream has ever been read from or canceled.
// It never resets.
func (s *ReadableStream[T]) Disturbed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disturbed
}

// GetReader acquires the stream's exclusive default reader. It fails with
// ErrStreamLocked while another reader is attached.
func (s *ReadableStream[T]) GetReader() (*DefaultReader[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return nil, ErrStreamLocked
	}

	r := &DefaultReader[T]{stream: s, closed: promise.New[struct{}]()}
	switch s.state {
	case ReadableClosed:
		r.closed.Resolve(struct{}{})
	case ReadableErrored:
		r.closed.Reject(s.storedError)
		r.closed.MarkHandled()
	}
	s.reader = r
	return r, nil
}

// Cancel signals that the consumer is no longer interested in the stream.
// The queue is discarded and the source's cancel algorithm runs with the
// reason. Cancel fails with ErrStreamLocked while a reader is attached; use
// the reader's Cancel instead.
func (s *ReadableStream[T]) Cancel(ctx context.Context, reason error) error {
	s.mu.Lock()
	if s.reader != nil {
		s.mu.Unlock()
		return ErrStreamLocked
	}
	s.mu.Unlock()
	return s.cancelInternal(ctx, reason)
}

func (s *ReadableStream[T]) cancelInternal(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrCanceled
	}

	s.mu.Lock()
	s.disturbed = true
	switch s.state {
	case ReadableClosed:
		s.mu.Unlock()
		return nil
	case ReadableErrored:
		err := s.storedError
		s.mu.Unlock()
		return err
	}

	// Close first so pending reads settle as done, then run the source's
	// cancel algorithm with the reason.
	s.closeLocked()
	if br, ok := s.reader.(*BYOBReader); ok {
		br.discardReadIntosLocked()
	}
	run := s.controller.cancelStepsLocked(reason)
	s.mu.Unlock()

	_, err := run().Await(ctx)
	return err
}

// closeLocked performs the terminal transition to closed. Idempotent: later
// calls on an already-terminal stream are no-ops.
func (s *ReadableStream[T]) closeLocked() {
	if s.state != Readable {
		return
	}
	s.state = ReadableClosed
	if s.reader != nil {
		s.reader.onCloseLocked()
	}
	metrics.DefaultRegistry.StreamsFinished.WithLabelValues(s.kind, "closed").Inc()
}

// errorLocked performs the terminal transition to errored.
func (s *ReadableStream[T]) errorLocked(err error) {
	if s.state != Readable {
		return
	}
	s.state = ReadableErrored
	s.storedError = err
	if s.reader != nil {
		s.reader.onErrorLocked(err)
	}
	metrics.DefaultRegistry.StreamsFinished.WithLabelValues(s.kind, "errored").Inc()
}

const (
	kindReadable     = "readable"
	kindReadableByte = "readable_byte"
	kindWritable     = "writable"
)
