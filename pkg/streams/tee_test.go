package streams

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/vnykmshr/streamkit/internal/testutil"
)

func readAll[T any](t *testing.T, s *ReadableStream[T]) []T {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	r, err := s.GetReader()
	testutil.AssertNoError(t, err)
	var got []T
	for {
		v, done, err := r.Read(ctx)
		testutil.AssertNoError(t, err)
		if done {
			return got
		}
		got = append(got, v)
	}
}

func TestTeeBothBranchesSeeAllChunks(t *testing.T) {
	src := rangeSource(5)

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, src.Locked(), true)

	got1 := readAll(t, b1)
	got2 := readAll(t, b2)

	testutil.AssertEqual(t, len(got1), 5)
	testutil.AssertEqual(t, len(got2), 5)
	for i := 0; i < 5; i++ {
		testutil.AssertEqual(t, got1[i], i+1)
		testutil.AssertEqual(t, got2[i], i+1)
	}
}

func TestTeeCloneForBranchTwo(t *testing.T) {
	type box struct{ v int }
	var ctrl *DefaultController[*box]
	src := NewReadable(UnderlyingSource[*box]{
		Start: func(c *DefaultController[*box]) error {
			ctrl = c
			return nil
		},
	})

	b1, b2, err := src.TeeWithOptions(TeeOptions[*box]{
		Clone: func(b *box) *box {
			cp := *b
			return &cp
		},
	})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, ctrl.Enqueue(&box{v: 1}))
	testutil.AssertNoError(t, ctrl.Close())

	got1 := readAll(t, b1)
	got2 := readAll(t, b2)

	testutil.AssertEqual(t, got1[0].v, 1)
	testutil.AssertEqual(t, got2[0].v, 1)
	if got1[0] == got2[0] {
		t.Fatal("branch two should get a clone, not the same pointer")
	}
}

func TestTeeCancelBothCancelsSource(t *testing.T) {
	r1 := errors.New("branch one done")
	r2 := errors.New("branch two done")
	tracker := testutil.NewCallbackTracker()

	src := NewReadable(UnderlyingSource[int]{
		Cancel: func(r error) error {
			tracker.Mark(r)
			return nil
		},
	})

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, b1.Cancel(ctx, r1))
	tracker.AssertNotCalled(t)

	testutil.AssertNoError(t, b2.Cancel(ctx, r2))
	testutil.AssertEventually(t, tracker.Called)

	reason := tracker.Value().(error)
	if !errors.Is(reason, r1) || !errors.Is(reason, r2) {
		t.Fatalf("joined reason %v should carry both branch reasons", reason)
	}
}

func TestTeeCancelOneBranchKeepsOther(t *testing.T) {
	src := rangeSource(3)

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, b1.Cancel(ctx, errors.New("not needed")))

	got := readAll(t, b2)
	testutil.AssertEqual(t, len(got), 3)
	testutil.AssertEqual(t, src.State(), ReadableClosed)
}

func TestTeeSourceErrorReachesBothBranches(t *testing.T) {
	boom := errors.New("source exploded")
	src := NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error { return boom },
	})

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	read := func(b *ReadableStream[int]) error {
		r, err := b.GetReader()
		testutil.AssertNoError(t, err)
		_, _, rerr := r.Read(ctx)
		return rerr
	}

	if err := read(b1); !errors.Is(err, boom) {
		t.Fatalf("branch one err = %v, want %v", err, boom)
	}
	if err := read(b2); !errors.Is(err, boom) {
		t.Fatalf("branch two err = %v, want %v", err, boom)
	}
}

func TestTeeLockedSource(t *testing.T) {
	src := rangeSource(1)
	r, _ := src.GetReader()

	_, _, err := src.Tee()
	if !errors.Is(err, ErrStreamLocked) {
		t.Fatalf("err = %v, want ErrStreamLocked", err)
	}

	r.ReleaseLock()
	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)
	readAll(t, b1)
	readAll(t, b2)
}

func TestByteTeeIndependentBuffers(t *testing.T) {
	payload := [][]byte{[]byte("alpha"), []byte("beta")}
	idx := 0
	src := NewReadableByteStream(UnderlyingByteSource{
		Pull: func(c *ByteController) error {
			if idx >= len(payload) {
				return c.Close()
			}
			chunk := payload[idx]
			idx++
			return c.Enqueue(ViewOf(chunk))
		},
	})

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b1.State(), Readable)

	got1 := readAll(t, b1)
	got2 := readAll(t, b2)

	testutil.AssertEqual(t, len(got1), 2)
	testutil.AssertEqual(t, len(got2), 2)
	testutil.AssertEqual(t, string(got1[0]), "alpha")
	testutil.AssertEqual(t, string(got2[0]), "alpha")
	testutil.AssertEqual(t, string(got1[1]), "beta")
	testutil.AssertEqual(t, string(got2[1]), "beta")

	// Mutating one branch's chunk must not leak into the other.
	got1[0][0] = 'X'
	testutil.AssertEqual(t, string(got2[0]), "alpha")
}

func TestByteTeeBYOBBranchFillsSourceRequest(t *testing.T) {
	payload := []byte("stream me")
	var sawBYOB, sawDefault int32
	offset := 0
	src := NewReadableByteStream(UnderlyingByteSource{
		Pull: func(c *ByteController) error {
			if offset >= len(payload) {
				if err := c.Close(); err != nil {
					return err
				}
				if req := c.BYOBRequest(); req != nil {
					return req.Respond(0)
				}
				return nil
			}
			if req := c.BYOBRequest(); req != nil {
				atomic.StoreInt32(&sawBYOB, 1)
				buf, err := req.View().Bytes()
				if err != nil {
					return err
				}
				n := copy(buf, payload[offset:])
				offset += n
				return req.Respond(n)
			}
			atomic.StoreInt32(&sawDefault, 1)
			end := min(offset+4, len(payload))
			chunk := make([]byte, end-offset)
			copy(chunk, payload[offset:end])
			offset = end
			return c.Enqueue(ViewOf(chunk))
		},
	})

	b1, b2, err := src.Tee()
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	r1, err := AcquireBYOBReader(b1)
	testutil.AssertNoError(t, err)

	// A BYOB read on a branch pulls the source through a BYOB reader, so
	// the source fills the consumer's buffer in place.
	view, err := NewView(NewBuffer(4), 0, 4)
	testutil.AssertNoError(t, err)
	res, done, err := r1.Read(ctx, view)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	got, err := res.Bytes()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(got), "stre")
	testutil.AssertEqual(t, atomic.LoadInt32(&sawBYOB), int32(1))

	// A default read on the other branch switches the source reader back.
	r2, err := b2.GetReader()
	testutil.AssertNoError(t, err)
	chunk, done, err := r2.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, string(chunk), "stre")

	var rest []byte
	for {
		chunk, done, err = r2.Read(ctx)
		testutil.AssertNoError(t, err)
		if done {
			break
		}
		rest = append(rest, chunk...)
	}
	testutil.AssertEqual(t, string(rest), "am me")
	testutil.AssertEqual(t, atomic.LoadInt32(&sawDefault), int32(1))

	// Branch one still sees the bytes read on branch two's behalf.
	var tail []byte
	for {
		v, verr := NewView(NewBuffer(8), 0, 8)
		testutil.AssertNoError(t, verr)
		res, done, err = r1.Read(ctx, v)
		testutil.AssertNoError(t, err)
		if done {
			break
		}
		b, berr := res.Bytes()
		testutil.AssertNoError(t, berr)
		tail = append(tail, b...)
	}
	testutil.AssertEqual(t, string(tail), "am me")
}
