package streams

import (
	"context"

	"github.com/vnykmshr/streamkit/pkg/promise"
)

// DefaultReader is the exclusive chunk-at-a-time reader of a readable
// stream. At most one reader is attached to a stream at any moment;
// ReleaseLock detaches it so another can be acquired.
type DefaultReader[T any] struct {
	stream   *ReadableStream[T]
	closed   *promise.Promise[struct{}]
	requests []*readRequest[T]
	released bool
}

// Read returns the next chunk. done is true once the stream has closed and
// the queue is drained; after that the chunk is the zero value. Read blocks
// until a chunk is available, the stream terminates, or ctx is done.
func (r *DefaultReader[T]) Read(ctx context.Context) (T, bool, error) {
	var zero T
	s := r.stream

	s.mu.Lock()
	if r.released {
		s.mu.Unlock()
		return zero, false, ErrReaderReleased
	}
	s.disturbed = true

	req := newReadRequest[T]()
	var needPull bool
	switch s.state {
	case ReadableClosed:
		req.p.Resolve(readResult[T]{done: true})
	case ReadableErrored:
		req.p.Reject(s.storedError)
	default:
		needPull = s.controller.pullStepsLocked(req)
	}
	s.mu.Unlock()

	if needPull {
		s.controller.maybePull()
	}

	res, err := req.p.Await(ctx)
	if err != nil {
		return zero, false, err
	}
	return res.value, res.done, nil
}

// Cancel cancels the stream through the reader, discarding buffered chunks
// and running the source's cancel algorithm with the reason.
func (r *DefaultReader[T]) Cancel(ctx context.Context, reason error) error {
	s := r.stream
	s.mu.Lock()
	if r.released {
		s.mu.Unlock()
		return ErrReaderReleased
	}
	s.mu.Unlock()
	return s.cancelInternal(ctx, reason)
}

// Closed returns a promise that resolves when the stream closes and rejects
// when it errors or the reader is released.
func (r *DefaultReader[T]) Closed() *promise.Promise[struct{}] {
	return r.closed
}

// ReleaseLock detaches the reader from its stream. Reads still pending are
// rejected with ErrReaderReleased; the stream itself is unaffected and can
// be locked again.
func (r *DefaultReader[T]) ReleaseLock() {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	r.releaseLocked()
}

func (r *DefaultReader[T]) releaseLocked() {
	if r.released {
		return
	}
	r.released = true

	if !r.closed.Settled() {
		r.closed.Reject(ErrReaderReleased)
	}
	r.closed.MarkHandled()

	s := r.stream
	s.reader = nil
	s.controller.releaseStepsLocked()

	reqs := r.requests
	r.requests = nil
	for _, req := range reqs {
		req.p.Reject(ErrReaderReleased)
	}
}

func (r *DefaultReader[T]) onCloseLocked() {
	r.closed.Resolve(struct{}{})
	reqs := r.requests
	r.requests = nil
	for _, req := range reqs {
		req.p.Resolve(readResult[T]{done: true})
	}
}

func (r *DefaultReader[T]) onErrorLocked(err error) {
	r.closed.Reject(err)
	r.closed.MarkHandled()
	reqs := r.requests
	r.requests = nil
	for _, req := range reqs {
		req.p.Reject(err)
	}
}

// pendingReads reports the number of parked read requests. Lock held.
func (r *DefaultReader[T]) pendingReadsLocked() int {
	return len(r.requests)
}
