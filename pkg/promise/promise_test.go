package promise

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/streamkit/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolveAwait(t *testing.T) {
	p := New[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve(42)
	}()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	v, err := p.Await(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 42)
}

func TestRejectAwait(t *testing.T) {
	p := New[int]()
	want := errors.New("boom")
	p.Reject(want)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	_, err := p.Await(ctx)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestSettleIdempotent(t *testing.T) {
	p := New[int]()

	testutil.AssertEqual(t, p.Resolve(1), true)
	testutil.AssertEqual(t, p.Resolve(2), false)
	testutil.AssertEqual(t, p.Reject(errors.New("late")), false)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	v, err := p.Await(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 1)
}

func TestAwaitContextCanceled(t *testing.T) {
	p := New[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The promise itself is still unsettled and usable.
	testutil.AssertEqual(t, p.Settled(), false)
	p.Resolve(7)
	v, err := p.Await(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 7)
}

func TestResolvedRejected(t *testing.T) {
	v, err := Resolved("ok").Await(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, "ok")

	want := errors.New("nope")
	_, err = Rejected[string](want).Await(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestDone(t *testing.T) {
	p := New[struct{}]()

	select {
	case <-p.Done():
		t.Fatal("done before settle")
	default:
	}

	p.Resolve(struct{}{})
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel never closed")
	}
}

func TestResult(t *testing.T) {
	p := New[int]()
	p.Resolve(9)
	<-p.Done()

	v, err := p.Result()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 9)
}

func TestMarkHandled(t *testing.T) {
	p := New[int]()
	testutil.AssertEqual(t, p.Handled(), false)
	p.MarkHandled()
	testutil.AssertEqual(t, p.Handled(), true)
}
