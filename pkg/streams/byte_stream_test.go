package streams

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vnykmshr/streamkit/internal/testutil"
)

func TestByteStreamDefaultRead(t *testing.T) {
	var ctrl *ByteController
	s, err := NewReadableByteStreamWithHighWaterMark(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return nil
		},
	}, 0)
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, ctrl.Enqueue(ViewOf([]byte("hello"))))
	testutil.AssertNoError(t, ctrl.Close())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	r, _ := s.GetReader()
	chunk, done, err := r.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, string(chunk), "hello")

	_, done, err = r.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, true)
}

func TestEnqueueDetachesBuffer(t *testing.T) {
	var ctrl *ByteController
	_, err := NewReadableByteStreamWithHighWaterMark(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return nil
		},
	}, 1)
	testutil.AssertNoError(t, err)

	view := ViewOf([]byte("data"))
	testutil.AssertNoError(t, ctrl.Enqueue(view))

	// The producer's handle is dead after the transfer.
	if _, err := view.Bytes(); !errors.Is(err, ErrBufferDetached) {
		t.Fatalf("err = %v, want ErrBufferDetached", err)
	}
	if err := ctrl.Enqueue(view); !errors.Is(err, ErrBufferDetached) {
		t.Fatalf("err = %v, want ErrBufferDetached", err)
	}
}

func TestEnqueueZeroLengthChunk(t *testing.T) {
	var ctrl *ByteController
	_ = NewReadableByteStream(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return nil
		},
	})

	if err := ctrl.Enqueue(ViewOf(nil)); !errors.Is(err, ErrZeroLengthChunk) {
		t.Fatalf("err = %v, want ErrZeroLengthChunk", err)
	}
	ctrl.Error(nil)
}

func TestAutoAllocatePullIntoRespond(t *testing.T) {
	payload := []byte("abc")
	sent := false
	s := NewReadableByteStream(UnderlyingByteSource{
		Pull: func(c *ByteController) error {
			req := c.BYOBRequest()
			if req == nil || req.View() == nil {
				return nil
			}
			if sent {
				return c.Close()
			}
			sent = true
			buf, err := req.View().Bytes()
			if err != nil {
				return err
			}
			n := copy(buf, payload)
			return req.Respond(n)
		},
		AutoAllocateChunkSize: 16,
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	r, _ := s.GetReader()
	chunk, done, err := r.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, string(chunk), "abc")

	_, done, err = r.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, true)
}

func TestBYOBReadFromQueue(t *testing.T) {
	s := NewReadableByteStream(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			return c.Enqueue(ViewOf([]byte("ab")))
		},
	})

	r, err := AcquireBYOBReader(s)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	view, err := NewView(NewBuffer(8), 0, 8)
	testutil.AssertNoError(t, err)

	out, done, err := r.Read(ctx, view)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, out.ByteLength(), 2)

	got, err := out.Bytes()
	testutil.AssertNoError(t, err)
	if !bytes.Equal(got, []byte("ab")) {
		t.Fatalf("got %q, want ab", got)
	}

	// The lent buffer was transferred away from the caller's view.
	if _, err := view.Bytes(); !errors.Is(err, ErrBufferDetached) {
		t.Fatalf("err = %v, want ErrBufferDetached", err)
	}

	testutil.AssertNoError(t, r.Cancel(ctx, nil))
}

func TestBYOBReadDrivesPull(t *testing.T) {
	s := NewReadableByteStream(UnderlyingByteSource{
		Pull: func(c *ByteController) error {
			req := c.BYOBRequest()
			if req == nil || req.View() == nil {
				return nil
			}
			buf, err := req.View().Bytes()
			if err != nil {
				return err
			}
			buf[0] = 0x7f
			return req.Respond(1)
		},
	})

	r, err := AcquireBYOBReader(s)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	view, _ := NewView(NewBuffer(4), 0, 4)
	out, done, err := r.Read(ctx, view)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, out.ByteLength(), 1)

	got, _ := out.Bytes()
	testutil.AssertEqual(t, got[0], byte(0x7f))

	testutil.AssertNoError(t, r.Cancel(ctx, nil))
}

func TestBYOBElementSizePartialFill(t *testing.T) {
	var ctrl *ByteController
	s := NewReadableByteStream(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return c.Enqueue(ViewOf([]byte{1, 2, 3}))
		},
	})

	r, _ := AcquireBYOBReader(s)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	// Element size 2: only whole elements are delivered, the odd byte
	// stays queued.
	view, err := NewViewWithElementSize(NewBuffer(4), 0, 4, 2)
	testutil.AssertNoError(t, err)

	out, done, err := r.Read(ctx, view)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, out.ByteLength(), 2)
	got, _ := out.Bytes()
	testutil.AssertEqual(t, got[0], byte(1))
	testutil.AssertEqual(t, got[1], byte(2))

	// Feed one more byte; the stranded byte 3 pairs with it.
	testutil.AssertNoError(t, ctrl.Enqueue(ViewOf([]byte{4})))

	view2, _ := NewViewWithElementSize(NewBuffer(4), 0, 4, 2)
	out, done, err = r.Read(ctx, view2)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	testutil.AssertEqual(t, out.ByteLength(), 2)
	got, _ = out.Bytes()
	testutil.AssertEqual(t, got[0], byte(3))
	testutil.AssertEqual(t, got[1], byte(4))

	testutil.AssertNoError(t, r.Cancel(ctx, nil))
}

func TestBYOBReadAfterClose(t *testing.T) {
	var ctrl *ByteController
	s := NewReadableByteStream(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return nil
		},
	})
	testutil.AssertNoError(t, ctrl.Close())

	r, _ := AcquireBYOBReader(s)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	view, _ := NewView(NewBuffer(4), 0, 4)
	out, done, err := r.Read(ctx, view)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, true)
	testutil.AssertEqual(t, out.ByteLength(), 0)
}

func TestBYOBCancelDiscardsPendingRead(t *testing.T) {
	s := NewReadableByteStream(UnderlyingByteSource{})
	r, _ := AcquireBYOBReader(s)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	type result struct {
		done bool
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		view, _ := NewView(NewBuffer(4), 0, 4)
		_, done, err := r.Read(ctx, view)
		resCh <- result{done: done, err: err}
	}()

	testutil.AssertEventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(r.requests) > 0
	})

	testutil.AssertNoError(t, r.Cancel(ctx, errors.New("stop")))
	res := <-resCh
	testutil.AssertNoError(t, res.err)
	testutil.AssertEqual(t, res.done, true)
}

func TestAcquireBYOBReaderOnDefaultStream(t *testing.T) {
	s := NewReadable(UnderlyingSource[[]byte]{})
	if _, err := AcquireBYOBReader(s); !errors.Is(err, ErrNotByteStream) {
		t.Fatalf("err = %v, want ErrNotByteStream", err)
	}

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, s.Cancel(ctx, nil))
}

func TestRespondValidation(t *testing.T) {
	var ctrl *ByteController
	s := NewReadableByteStream(UnderlyingByteSource{
		Start: func(c *ByteController) error {
			ctrl = c
			return nil
		},
	})

	if err := ctrl.Respond(1); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("err = %v, want ErrNoPendingRequest", err)
	}

	r, _ := AcquireBYOBReader(s)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	resCh := make(chan error, 1)
	go func() {
		view, _ := NewView(NewBuffer(4), 0, 4)
		_, _, err := r.Read(ctx, view)
		resCh <- err
	}()

	testutil.AssertEventually(t, func() bool {
		return ctrl.BYOBRequest() != nil
	})

	// Zero bytes is only legal on a closed stream; overflow never is.
	if err := ctrl.Respond(0); !errors.Is(err, ErrInvalidRespond) {
		t.Fatalf("err = %v, want ErrInvalidRespond", err)
	}
	if err := ctrl.Respond(5); !errors.Is(err, ErrInvalidRespond) {
		t.Fatalf("err = %v, want ErrInvalidRespond", err)
	}

	testutil.AssertNoError(t, ctrl.Respond(2))
	testutil.AssertNoError(t, <-resCh)

	testutil.AssertNoError(t, r.Cancel(ctx, nil))
}

func TestBufferTransfer(t *testing.T) {
	b := NewBufferFrom([]byte("abc"))
	moved, err := b.Transfer()
	testutil.AssertNoError(t, err)

	if _, err := b.Bytes(); !errors.Is(err, ErrBufferDetached) {
		t.Fatalf("err = %v, want ErrBufferDetached", err)
	}
	testutil.AssertEqual(t, b.Detached(), true)
	testutil.AssertEqual(t, b.Len(), 0)

	got, err := moved.Bytes()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(got), "abc")

	if _, err := b.Transfer(); !errors.Is(err, ErrBufferDetached) {
		t.Fatalf("second transfer err = %v, want ErrBufferDetached", err)
	}
}

func TestViewValidation(t *testing.T) {
	buf := NewBuffer(8)

	if _, err := NewView(buf, -1, 2); !errors.Is(err, ErrInvalidView) {
		t.Fatal("negative offset should be rejected")
	}
	if _, err := NewView(buf, 4, 8); !errors.Is(err, ErrInvalidView) {
		t.Fatal("window past the end should be rejected")
	}
	if _, err := NewViewWithElementSize(buf, 0, 6, 4); !errors.Is(err, ErrInvalidView) {
		t.Fatal("length not a multiple of element size should be rejected")
	}

	v, err := NewViewWithElementSize(buf, 4, 4, 2)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v.ByteOffset(), 4)
	testutil.AssertEqual(t, v.ByteLength(), 4)
	testutil.AssertEqual(t, v.ElementSize(), 2)
}
