package streams

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/streamkit/internal/testutil"
)

func rangeSource(n int) *ReadableStream[int] {
	var next int32
	return NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error {
			v := atomic.AddInt32(&next, 1)
			if int(v) > n {
				return c.Close()
			}
			return c.Enqueue(int(v))
		},
	})
}

func sinkStream(sink *testutil.RecordingSink[int]) *WritableStream[int] {
	return NewWritable(UnderlyingSink[int]{
		Write: func(chunk int, _ *WritableController[int]) error { return sink.Write(chunk) },
		Close: sink.Close,
		Abort: sink.Abort,
	})
}

func TestPipeToDeliversAndCloses(t *testing.T) {
	sink := testutil.NewRecordingSink[int]()
	src := rangeSource(10)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, src.PipeTo(ctx, sinkStream(sink), PipeOptions{}))

	chunks := sink.Chunks()
	testutil.AssertEqual(t, len(chunks), 10)
	for i, v := range chunks {
		testutil.AssertEqual(t, v, i+1)
	}
	testutil.AssertEqual(t, sink.Closed(), true)
	testutil.AssertEqual(t, src.State(), ReadableClosed)

	// Both locks are released afterwards.
	testutil.AssertEqual(t, src.Locked(), false)
}

func TestPipeToPreventClose(t *testing.T) {
	sink := testutil.NewRecordingSink[int]()
	src := rangeSource(3)
	dst := sinkStream(sink)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, src.PipeTo(ctx, dst, PipeOptions{PreventClose: true}))
	testutil.AssertEqual(t, sink.Closed(), false)
	testutil.AssertEqual(t, dst.State(), Writable)

	testutil.AssertNoError(t, dst.Close(ctx))
	testutil.AssertEqual(t, sink.Closed(), true)
}

func TestPipeSourceErrorAbortsDest(t *testing.T) {
	boom := errors.New("source died")
	src := NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error { return boom },
	})
	sink := testutil.NewRecordingSink[int]()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	err := src.PipeTo(ctx, sinkStream(sink), PipeOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("pipe err = %v, want %v", err, boom)
	}

	aborted, reason := sink.Aborted()
	testutil.AssertEqual(t, aborted, true)
	if !errors.Is(reason, boom) {
		t.Fatalf("abort reason = %v, want %v", reason, boom)
	}
}

func TestPipeDestErrorCancelsSource(t *testing.T) {
	boom := errors.New("sink died")
	tracker := testutil.NewCallbackTracker()

	src := NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error { return c.Enqueue(1) },
		Cancel: func(r error) error {
			tracker.Mark(r)
			return nil
		},
	})
	sink := testutil.NewRecordingSink[int]()
	sink.FailOn(3, boom)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	err := src.PipeTo(ctx, sinkStream(sink), PipeOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("pipe err = %v, want %v", err, boom)
	}

	tracker.AssertCalled(t)
	if got := tracker.Value().(error); !errors.Is(got, boom) {
		t.Fatalf("cancel reason = %v, want %v", got, boom)
	}
}

func TestPipeDestErrorWakesParkedRead(t *testing.T) {
	boom := errors.New("sink gave up")
	tracker := testutil.NewCallbackTracker()

	block := make(chan struct{})
	defer close(block)
	src := NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error {
			// Never produces; the pipe parks in a read.
			<-block
			return nil
		},
		Cancel: func(r error) error {
			tracker.Mark(r)
			return nil
		},
	})

	var ctrl *WritableController[int]
	dst := NewWritable(UnderlyingSink[int]{
		Start: func(c *WritableController[int]) error {
			ctrl = c
			return nil
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- src.PipeTo(context.Background(), dst, PipeOptions{}) }()

	time.Sleep(50 * time.Millisecond)
	ctrl.Error(boom)

	select {
	case err := <-errCh:
		if !errors.Is(err, boom) {
			t.Fatalf("pipe err = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipe never observed the destination error")
	}

	tracker.AssertCalled(t)
	if got := tracker.Value().(error); !errors.Is(got, boom) {
		t.Fatalf("cancel reason = %v, want %v", got, boom)
	}
}

func TestPipeContextCancel(t *testing.T) {
	reason := errors.New("operator said stop")
	tracker := testutil.NewCallbackTracker()

	block := make(chan struct{})
	defer close(block)
	src := NewReadable(UnderlyingSource[int]{
		Pull: func(c *DefaultController[int]) error {
			// Never produces; the pipe hangs on read until canceled.
			<-block
			return nil
		},
		Cancel: func(r error) error {
			tracker.Mark(r)
			return nil
		},
	})
	sink := testutil.NewRecordingSink[int]()

	ctx, cancel := context.WithCancelCause(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- src.PipeTo(ctx, sinkStream(sink), PipeOptions{}) }()

	cancel(reason)
	if err := <-errCh; !errors.Is(err, reason) {
		t.Fatalf("pipe err = %v, want %v", err, reason)
	}

	aborted, _ := sink.Aborted()
	testutil.AssertEqual(t, aborted, true)
	tracker.AssertCalled(t)
}

func TestPipeToLockedStreams(t *testing.T) {
	src := rangeSource(1)
	dst := sinkStream(testutil.NewRecordingSink[int]())

	r, _ := src.GetReader()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	if err := src.PipeTo(ctx, dst, PipeOptions{}); !errors.Is(err, ErrStreamLocked) {
		t.Fatalf("err = %v, want ErrStreamLocked", err)
	}
	r.ReleaseLock()

	w, _ := dst.GetWriter()
	if err := src.PipeTo(ctx, dst, PipeOptions{}); !errors.Is(err, ErrStreamLocked) {
		t.Fatalf("err = %v, want ErrStreamLocked", err)
	}
	w.ReleaseLock()

	testutil.AssertNoError(t, src.PipeTo(ctx, dst, PipeOptions{}))
}

func TestPipeToClosedDest(t *testing.T) {
	tracker := testutil.NewCallbackTracker()
	src := NewReadable(UnderlyingSource[int]{
		Cancel: func(r error) error {
			tracker.Mark(r)
			return nil
		},
	})
	dst := sinkStream(testutil.NewRecordingSink[int]())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, dst.Close(ctx))

	err := src.PipeTo(ctx, dst, PipeOptions{})
	if !errors.Is(err, ErrDestinationClosed) {
		t.Fatalf("err = %v, want ErrDestinationClosed", err)
	}
	tracker.AssertCalled(t)
}

func TestPipeThroughTransform(t *testing.T) {
	src := rangeSource(4)
	ts := NewTransform(Transformer[int, string]{
		Transform: func(chunk int, c *TransformController[int, string]) error {
			return c.Enqueue(strconv.Itoa(chunk))
		},
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	out, err := PipeThrough(ctx, src, ts, PipeOptions{})
	testutil.AssertNoError(t, err)

	r, _ := out.GetReader()
	var got []string
	for {
		v, done, err := r.Read(ctx)
		testutil.AssertNoError(t, err)
		if done {
			break
		}
		got = append(got, v)
	}

	testutil.AssertEqual(t, len(got), 4)
	testutil.AssertEqual(t, got[0], "1")
	testutil.AssertEqual(t, got[3], "4")
}
