// Package integration contains tests that verify cross-package functionality:
// resource streams, transforms and pipes working together end to end.
package integration

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/streamkit/internal/testutil"
	"github.com/vnykmshr/streamkit/pkg/resource"
	"github.com/vnykmshr/streamkit/pkg/sources/schedule"
	"github.com/vnykmshr/streamkit/pkg/streams"
	"github.com/vnykmshr/streamkit/pkg/transforms/throttle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestResourceTransformPipeline runs bytes from an io source through a
// transform into an io sink and verifies the content survives intact.
func TestResourceTransformPipeline(t *testing.T) {
	payload := bytes.Repeat([]byte("integration "), 200)
	rc := testutil.NewSliceReadCloser(payload)
	wc := testutil.NewBufferWriteCloser()

	src := resource.NewReadable(rc, resource.Config{ChunkSize: 256, AutoClose: true})
	dst := resource.NewWritable(wc, resource.Config{AutoClose: true})

	// Upper-case every chunk on the way through.
	upper := streams.NewTransform(streams.Transformer[[]byte, []byte]{
		Transform: func(chunk []byte, c *streams.TransformController[[]byte, []byte]) error {
			return c.Enqueue(bytes.ToUpper(chunk))
		},
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	out, err := streams.PipeThrough(ctx, src.Stream(), upper, streams.PipeOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, out.PipeTo(ctx, dst.Stream(), streams.PipeOptions{}))

	if !bytes.Equal(wc.Bytes(), bytes.ToUpper(payload)) {
		t.Fatalf("sink holds %d bytes, want %d transformed bytes", len(wc.Bytes()), len(payload))
	}
	testutil.AssertEqual(t, rc.IsClosed(), true)
	testutil.AssertEqual(t, wc.IsClosed(), true)
}

// TestThrottledByteTransfer verifies the throttle transform paces a byte
// pipe without losing data.
func TestThrottledByteTransfer(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)
	rc := testutil.NewSliceReadCloser(payload)
	wc := testutil.NewBufferWriteCloser()

	src := resource.NewReadable(rc, resource.Config{ChunkSize: 1024, AutoClose: true})
	dst := resource.NewWritable(wc, resource.Config{AutoClose: true})

	pacer, err := throttle.NewTransform(throttle.Config[[]byte]{
		Rate:  1024 * 1024,
		Burst: 1024,
		Cost:  func(b []byte) float64 { return float64(len(b)) },
	})
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	out, err := streams.PipeThrough(ctx, src.Stream(), pacer, streams.PipeOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, out.PipeTo(ctx, dst.Stream(), streams.PipeOptions{}))

	if !bytes.Equal(wc.Bytes(), payload) {
		t.Fatalf("throttled pipe delivered %d bytes, want %d", len(wc.Bytes()), len(payload))
	}
}

// TestTeeToTwoSinks splits one resource stream into two sinks and checks
// both receive the full content.
func TestTeeToTwoSinks(t *testing.T) {
	payload := bytes.Repeat([]byte("fanout "), 300)
	src := resource.NewReadable(testutil.NewSliceReadCloser(payload), resource.Config{ChunkSize: 128, AutoClose: true})

	b1, b2, err := src.Stream().Tee()
	testutil.AssertNoError(t, err)

	wc1 := testutil.NewBufferWriteCloser()
	wc2 := testutil.NewBufferWriteCloser()
	dst1 := resource.NewWritable(wc1, resource.Config{AutoClose: true})
	dst2 := resource.NewWritable(wc2, resource.Config{AutoClose: true})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- b1.PipeTo(ctx, dst1.Stream(), streams.PipeOptions{}) }()
	go func() { done <- b2.PipeTo(ctx, dst2.Stream(), streams.PipeOptions{}) }()
	testutil.AssertNoError(t, <-done)
	testutil.AssertNoError(t, <-done)

	if !bytes.Equal(wc1.Bytes(), payload) || !bytes.Equal(wc2.Bytes(), payload) {
		t.Fatalf("branches delivered %d and %d bytes, want %d each",
			len(wc1.Bytes()), len(wc2.Bytes()), len(payload))
	}
}

// TestScheduleDrivenPipeline pipes cron ticks through a formatting transform
// into a recording sink, then cancels the schedule.
func TestScheduleDrivenPipeline(t *testing.T) {
	src, err := schedule.NewReadable(schedule.Config{Expression: "@every 1s", TimeZone: time.UTC})
	testutil.AssertNoError(t, err)

	format := streams.NewTransform(streams.Transformer[time.Time, string]{
		Transform: func(tick time.Time, c *streams.TransformController[time.Time, string]) error {
			return c.Enqueue(tick.Format(time.RFC3339))
		},
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	out, err := streams.PipeThrough(ctx, src, format, streams.PipeOptions{})
	testutil.AssertNoError(t, err)

	r, err := out.GetReader()
	testutil.AssertNoError(t, err)

	stamp, done, err := r.Read(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, done, false)
	if !strings.Contains(stamp, "T") {
		t.Fatalf("tick %q is not RFC3339", stamp)
	}

	testutil.AssertNoError(t, r.Cancel(ctx, errors.New("enough ticks")))
}

// TestSourceErrorPropagatesThroughChain verifies an upstream failure aborts
// every stage down the chain.
func TestSourceErrorPropagatesThroughChain(t *testing.T) {
	boom := errors.New("upstream failed")
	src := streams.NewReadable(streams.UnderlyingSource[int]{
		Pull: func(c *streams.DefaultController[int]) error { return boom },
	})

	double := streams.NewTransform(streams.Transformer[int, int]{
		Transform: func(chunk int, c *streams.TransformController[int, int]) error {
			return c.Enqueue(chunk * 2)
		},
	})
	sink := testutil.NewRecordingSink[int]()
	dst := streams.NewWritable(streams.UnderlyingSink[int]{
		Write: func(chunk int, _ *streams.WritableController[int]) error { return sink.Write(chunk) },
		Abort: sink.Abort,
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	out, err := streams.PipeThrough(ctx, src, double, streams.PipeOptions{})
	testutil.AssertNoError(t, err)

	if err := out.PipeTo(ctx, dst, streams.PipeOptions{}); !errors.Is(err, boom) {
		t.Fatalf("pipe err = %v, want %v", err, boom)
	}

	aborted, reason := sink.Aborted()
	testutil.AssertEqual(t, aborted, true)
	if !errors.Is(reason, boom) {
		t.Fatalf("abort reason = %v, want %v", reason, boom)
	}
}
