package streams

import (
	"context"

	"github.com/vnykmshr/streamkit/pkg/promise"
)

// readIntoResult carries the outcome of one BYOB read: a view over the bytes
// written into the caller's buffer, or done.
type readIntoResult struct {
	view *View
	done bool
}

type readIntoRequest struct {
	p *promise.Promise[readIntoResult]
}

// BYOBReader reads a byte stream into caller-supplied buffers. The buffer
// backing each view passed to Read is transferred to the engine for the
// duration of the read and handed back, filled, through the result view.
type BYOBReader struct {
	stream   *ReadableStream[[]byte]
	closed   *promise.Promise[struct{}]
	requests []*readIntoRequest
	released bool
}

// AcquireBYOBReader attaches an exclusive BYOB reader to a byte stream. It
// fails with ErrNotByteStream on a default stream and ErrStreamLocked while
// another reader is attached.
func AcquireBYOBReader(s *ReadableStream[[]byte]) (*BYOBReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.controller.(*ByteController); !ok {
		return nil, ErrNotByteStream
	}
	if s.reader != nil {
		return nil, ErrStreamLocked
	}

	r := &BYOBReader{stream: s, closed: promise.New[struct{}]()}
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

// Read fills the caller's view with at least one element and returns a view
// over the written region. view's buffer is transferred on entry; use the
// returned view to access the bytes. done is true only when the stream
// closed before any byte was written, in which case the returned view is
// zero length over the handed-back buffer.
func (r *BYOBReader) Read(ctx context.Context, view *View) (*View, bool, error) {
	if view == nil || view.ByteLength() == 0 {
		return nil, false, ErrInvalidView
	}

	s := r.stream
	s.mu.Lock()
	if r.released {
		s.mu.Unlock()
		return nil, false, ErrReaderReleased
	}
	s.disturbed = true

	if s.state == ReadableErrored {
		err := s.storedError
		s.mu.Unlock()
		return nil, false, err
	}

	c := s.controller.(*ByteController)
	req := &readIntoRequest{p: promise.New[readIntoResult]()}
	needPull := c.pullIntoLocked(req, view, r)
	s.mu.Unlock()

	if needPull {
		c.maybePull()
	}

	res, err := req.p.Await(ctx)
	if err != nil {
		return nil, false, err
	}
	return res.view, res.done, nil
}

// Cancel cancels the stream through the reader. Pending reads settle as done
// with nil views; bytes already copied into their buffers are discarded.
func (r *BYOBReader) Cancel(ctx context.Context, reason error) error {
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
func (r *BYOBReader) Closed() *promise.Promise[struct{}] {
	return r.closed
}

// ReleaseLock detaches the reader. Pending reads are rejected with
// ErrReaderReleased; an in-flight source respond still has a descriptor to
// write into, but its bytes go to the stream's queue instead of a reader.
func (r *BYOBReader) ReleaseLock() {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	r.releaseLocked()
}

func (r *BYOBReader) releaseLocked() {
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

// onCloseLocked resolves the closed promise. Pending read-intos stay parked:
// the source may still respond with zero to hand their buffers back.
func (r *BYOBReader) onCloseLocked() {
	r.closed.Resolve(struct{}{})
}

func (r *BYOBReader) onErrorLocked(err error) {
	r.closed.Reject(err)
	r.closed.MarkHandled()
	reqs := r.requests
	r.requests = nil
	for _, req := range reqs {
		req.p.Reject(err)
	}
}

// discardReadIntosLocked settles all pending read-intos as done without
// data. Used by cancellation, where partial fills are dropped.
func (r *BYOBReader) discardReadIntosLocked() {
	reqs := r.requests
	r.requests = nil
	for _, req := range reqs {
		req.p.Resolve(readIntoResult{done: true})
	}
}
