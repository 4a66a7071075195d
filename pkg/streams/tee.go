package streams

import (
	"context"
	"errors"
	"sync"

	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
)

// TeeOptions tune how a tee hands chunks to its second branch. Clone, when
// set, produces branch two's copy of each chunk; without it both branches
// observe the same value, which is only safe for immutable chunk types.
type TeeOptions[T any] struct {
	Clone func(T) T
}

// Tee splits the stream into two branches that each observe every chunk.
// The source is locked by the tee and pulled at the pace of the faster
// branch; the slower branch buffers the difference without limit. The
// source is canceled only after both branches cancel, with both reasons
// joined.
func (s *ReadableStream[T]) Tee() (*ReadableStream[T], *ReadableStream[T], error) {
	return s.TeeWithOptions(TeeOptions[T]{})
}

// TeeWithOptions is Tee with an explicit clone hook for branch two. A byte
// stream ignores the hook: its second branch always receives a copy, since
// byte chunks are mutable by nature.
func (s *ReadableStream[T]) TeeWithOptions(opts TeeOptions[T]) (*ReadableStream[T], *ReadableStream[T], error) {
	if s.kind == kindReadableByte {
		if bs, ok := any(s).(*ReadableStream[[]byte]); ok {
			b1, b2, err := byteTee(bs)
			if err != nil {
				return nil, nil, err
			}
			return any(b1).(*ReadableStream[T]), any(b2).(*ReadableStream[T]), nil
		}
	}
	return defaultTee(s, opts.Clone)
}

// teeState is the coordination block shared by both branches of a tee.
type teeState struct {
	mu        sync.Mutex
	reading   bool
	readAgain bool
	canceled1 bool
	canceled2 bool
	reason1   error
	reason2   error

	// cancelP settles once the source cancel (or terminal transition)
	// resolves; both branch cancels return it.
	cancelP *promise.Promise[struct{}]

	// init closes once both branch controllers exist; pulls wait on it.
	init chan struct{}
}

func newTeeState() *teeState {
	return &teeState{cancelP: promise.New[struct{}](), init: make(chan struct{})}
}

// branchCancel records one branch's cancellation. The first branch settles
// immediately; only the cancel that completes the pair waits on the source
// cancel, which runs with the joined reasons.
func (t *teeState) branchCancel(branch2 bool, reason error, cancelSource func(error)) *promise.Promise[struct{}] {
	t.mu.Lock()
	if branch2 {
		t.canceled2 = true
		t.reason2 = reason
	} else {
		t.canceled1 = true
		t.reason1 = reason
	}
	both := t.canceled1 && t.canceled2
	r1, r2 := t.reason1, t.reason2
	t.mu.Unlock()

	if !both {
		return promise.Resolved(struct{}{})
	}
	go cancelSource(errors.Join(r1, r2))
	return t.cancelP
}

func defaultTee[T any](s *ReadableStream[T], clone func(T) T) (*ReadableStream[T], *ReadableStream[T], error) {
	reader, err := s.GetReader()
	if err != nil {
		return nil, nil, err
	}

	t := newTeeState()
	var c1, c2 *DefaultController[T]

	cancelSource := func(reason error) {
		if err := reader.Cancel(context.Background(), reason); err != nil {
			t.cancelP.Reject(err)
			t.cancelP.MarkHandled()
			return
		}
		t.cancelP.Resolve(struct{}{})
	}

	// Both branches share one pull: whichever branch wants data first reads
	// the source, and a request arriving mid-read coalesces into one more
	// read afterwards.
	pull := func(*DefaultController[T]) error {
		<-t.init

		t.mu.Lock()
		if t.reading {
			t.readAgain = true
			t.mu.Unlock()
			return nil
		}
		t.reading = true
		t.mu.Unlock()

		for {
			chunk, done, err := reader.Read(context.Background())

			t.mu.Lock()
			canc1, canc2 := t.canceled1, t.canceled2
			t.mu.Unlock()

			if err != nil {
				if !canc1 {
					c1.Error(err)
				}
				if !canc2 {
					c2.Error(err)
				}
				if !canc1 || !canc2 {
					t.cancelP.Resolve(struct{}{})
				}
				t.mu.Lock()
				t.reading = false
				t.mu.Unlock()
				return nil
			}
			if done {
				if !canc1 {
					_ = c1.Close()
				}
				if !canc2 {
					_ = c2.Close()
				}
				if !canc1 || !canc2 {
					t.cancelP.Resolve(struct{}{})
				}
				t.mu.Lock()
				t.reading = false
				t.mu.Unlock()
				return nil
			}

			metrics.DefaultRegistry.TeeChunkReads.Inc()
			chunk2 := chunk
			if clone != nil {
				chunk2 = clone(chunk)
			}
			if !canc1 {
				_ = c1.Enqueue(chunk)
			}
			if !canc2 {
				_ = c2.Enqueue(chunk2)
			}

			t.mu.Lock()
			again := t.readAgain
			t.readAgain = false
			if !again {
				t.reading = false
			}
			t.mu.Unlock()
			if !again {
				return nil
			}
		}
	}

	cancel1 := func(reason error) *promise.Promise[struct{}] {
		return t.branchCancel(false, reason, cancelSource)
	}
	cancel2 := func(reason error) *promise.Promise[struct{}] {
		return t.branchCancel(true, reason, cancelSource)
	}

	b1 := newReadableWithAlgorithms(pull, cancel1, DefaultQueuingStrategy[T]())
	b2 := newReadableWithAlgorithms(pull, cancel2, DefaultQueuingStrategy[T]())
	c1 = b1.controller.(*DefaultController[T])
	c2 = b2.controller.(*DefaultController[T])
	close(t.init)

	metrics.DefaultRegistry.TeeBranches.Add(2)
	return b1, b2, nil
}

// byteTee splits a byte stream into two byte-stream branches. The source
// reader follows the pulling branch: a branch waiting on a BYOB read pulls
// the source through a BYOB reader so the bytes land in the consumer's
// buffer directly, any other pull goes through a default reader. The other
// branch always receives a copy, so the branches never alias a buffer.
func byteTee(s *ReadableStream[[]byte]) (*ReadableStream[[]byte], *ReadableStream[[]byte], error) {
	defReader, err := s.GetReader()
	if err != nil {
		return nil, nil, err
	}
	var byobReader *BYOBReader

	t := newTeeState()
	var c1, c2 *ByteController
	var readAgain1, readAgain2 bool

	cancelSource := func(reason error) {
		if err := s.cancelInternal(context.Background(), reason); err != nil {
			t.cancelP.Reject(err)
			t.cancelP.MarkHandled()
			return
		}
		t.cancelP.Resolve(struct{}{})
	}

	// The reader swaps happen only inside the reading-guarded pull loop, and
	// only between reads, so the outgoing reader never has a request parked.
	ensureDefaultReader := func() error {
		if defReader != nil {
			return nil
		}
		byobReader.ReleaseLock()
		byobReader = nil
		r, err := s.GetReader()
		if err != nil {
			return err
		}
		defReader = r
		return nil
	}
	ensureBYOBReader := func() error {
		if byobReader != nil {
			return nil
		}
		defReader.ReleaseLock()
		defReader = nil
		r, err := AcquireBYOBReader(s)
		if err != nil {
			return err
		}
		byobReader = r
		return nil
	}

	branchFlags := func() (bool, bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.canceled1, t.canceled2
	}

	errorBranches := func(err error, canc1, canc2 bool) {
		if !canc1 {
			c1.Error(err)
		}
		if !canc2 {
			c2.Error(err)
		}
		if !canc1 || !canc2 {
			t.cancelP.Resolve(struct{}{})
		}
	}

	// closeBranch closes the branch and hands back any buffer a BYOB read
	// left with it, so the read settles as done instead of hanging.
	closeBranch := func(c *ByteController) {
		_ = c.Close()
		if c.BYOBRequest() != nil {
			_ = c.Respond(0)
		}
	}

	// readDefault moves one chunk from the source into both branches. It
	// reports whether the pull loop should stop.
	readDefault := func() bool {
		if err := ensureDefaultReader(); err != nil {
			canc1, canc2 := branchFlags()
			errorBranches(err, canc1, canc2)
			return true
		}
		chunk, done, err := defReader.Read(context.Background())

		canc1, canc2 := branchFlags()
		if err != nil {
			errorBranches(err, canc1, canc2)
			return true
		}
		if done {
			if !canc1 {
				closeBranch(c1)
			}
			if !canc2 {
				closeBranch(c2)
			}
			if !canc1 || !canc2 {
				t.cancelP.Resolve(struct{}{})
			}
			return true
		}

		metrics.DefaultRegistry.TeeChunkReads.Inc()
		if len(chunk) > 0 {
			if !canc1 {
				_ = c1.Enqueue(ViewOf(chunk))
			}
			if !canc2 {
				cp := make([]byte, len(chunk))
				copy(cp, chunk)
				_ = c2.Enqueue(ViewOf(cp))
			}
		}
		return false
	}

	// readInto fills the pulling branch's pending BYOB buffer straight from
	// the source; the other branch gets a copy of the bytes.
	readInto := func(pulling, other *ByteController, view *View, forBranch2 bool) bool {
		if err := ensureBYOBReader(); err != nil {
			canc1, canc2 := branchFlags()
			errorBranches(err, canc1, canc2)
			return true
		}
		res, done, err := byobReader.Read(context.Background(), view)

		canc1, canc2 := branchFlags()
		cancPulling, cancOther := canc1, canc2
		if forBranch2 {
			cancPulling, cancOther = canc2, canc1
		}
		if err != nil {
			errorBranches(err, canc1, canc2)
			return true
		}
		if done {
			if !cancPulling {
				_ = pulling.Close()
				if res != nil {
					_ = pulling.RespondWithNewView(res)
				} else if pulling.BYOBRequest() != nil {
					_ = pulling.Respond(0)
				}
			}
			if !cancOther {
				closeBranch(other)
			}
			if !canc1 || !canc2 {
				t.cancelP.Resolve(struct{}{})
			}
			return true
		}

		metrics.DefaultRegistry.TeeChunkReads.Inc()
		// Copy before responding: the respond transfers res's buffer.
		if !cancOther {
			if data, derr := res.Bytes(); derr == nil {
				cp := make([]byte, len(data))
				copy(cp, data)
				_ = other.Enqueue(ViewOf(cp))
			}
		}
		if !cancPulling {
			_ = pulling.RespondWithNewView(res)
		}
		return false
	}

	doPull := func(forBranch2 bool) {
		for {
			pulling, other := c1, c2
			if forBranch2 {
				pulling, other = c2, c1
			}

			// A branch cancel can invalidate the request between the two
			// calls; a nil view falls back to the default path.
			var stop bool
			if req := pulling.BYOBRequest(); req != nil && req.View() != nil {
				stop = readInto(pulling, other, req.View(), forBranch2)
			} else {
				stop = readDefault()
			}

			t.mu.Lock()
			if stop {
				t.reading = false
				readAgain1, readAgain2 = false, false
				t.mu.Unlock()
				return
			}
			a1, a2 := readAgain1, readAgain2
			readAgain1, readAgain2 = false, false
			if !a1 && !a2 {
				t.reading = false
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
			forBranch2 = a2 && !a1
		}
	}

	pull := func(forBranch2 bool) func(*ByteController) error {
		return func(*ByteController) error {
			<-t.init

			t.mu.Lock()
			if t.reading {
				if forBranch2 {
					readAgain2 = true
				} else {
					readAgain1 = true
				}
				t.mu.Unlock()
				return nil
			}
			t.reading = true
			t.mu.Unlock()

			doPull(forBranch2)
			return nil
		}
	}

	cancel1 := func(reason error) *promise.Promise[struct{}] {
		return t.branchCancel(false, reason, cancelSource)
	}
	cancel2 := func(reason error) *promise.Promise[struct{}] {
		return t.branchCancel(true, reason, cancelSource)
	}

	b1 := newByteReadableWithAlgorithms(pull(false), cancel1)
	b2 := newByteReadableWithAlgorithms(pull(true), cancel2)
	c1 = b1.controller.(*ByteController)
	c2 = b2.controller.(*ByteController)
	close(t.init)

	metrics.DefaultRegistry.TeeBranches.Add(2)
	return b1, b2, nil
}
