package streams

import (
	"context"
	"time"

	"github.com/vnykmshr/streamkit/pkg/metrics"
)

// PipeOptions control how errors and closure propagate across a pipe. By
// default everything propagates: a source error aborts the destination, a
// destination error cancels the source, and source closure closes the
// destination.
type PipeOptions struct {
	PreventClose  bool
	PreventAbort  bool
	PreventCancel bool
}

// PipeTo moves every chunk of s into dest, respecting dest's backpressure:
// the source is only read when the destination is ready for more. Both
// streams are locked for the duration. PipeTo returns once the pipe
// finishes: nil after the source closed and (unless PreventClose) dest
// closed too, otherwise the error that stopped the pipe. Canceling ctx
// stops the pipe and propagates the cause to both sides.
func (s *ReadableStream[T]) PipeTo(ctx context.Context, dest *WritableStream[T], opts PipeOptions) error {
	reader, err := s.GetReader()
	if err != nil {
		return err
	}
	writer, err := dest.GetWriter()
	if err != nil {
		reader.ReleaseLock()
		return err
	}

	start := time.Now()
	metrics.DefaultRegistry.PipesStarted.Inc()

	outcome, err := pipeLoop(ctx, s, dest, reader, writer, opts)

	metrics.DefaultRegistry.PipeOutcomes.WithLabelValues(outcome).Inc()
	metrics.DefaultRegistry.PipeDuration.Observe(time.Since(start).Seconds())

	reader.ReleaseLock()
	writer.ReleaseLock()
	return err
}

func pipeLoop[T any](
	ctx context.Context,
	src *ReadableStream[T],
	dest *WritableStream[T],
	reader *DefaultReader[T],
	writer *Writer[T],
	opts PipeOptions,
) (string, error) {
	// A read parked on a quiet source must still observe the destination
	// going terminal. The writer's closed promise settles on close and on
	// error; its settlement cancels readCtx, unparking the blocking calls
	// below so the state checks at the top of the loop run.
	readCtx, unpark := context.WithCancel(ctx)
	defer unpark()
	go func() {
		_, _ = writer.Closed().Await(readCtx)
		unpark()
	}()

	for {
		// Errors and closure propagate ahead of any pending read or write.
		if src.State() == ReadableErrored {
			reason := src.Err()
			if !opts.PreventAbort {
				_ = dest.abortInternal(context.Background(), reason)
			}
			return "source_errored", reason
		}
		switch dest.State() {
		case WritableErrored, WritableErroring:
			reason := dest.Err()
			if !opts.PreventCancel {
				_ = src.cancelInternal(context.Background(), reason)
			}
			return "dest_errored", reason
		}
		if dest.closingOrClosed() {
			if !opts.PreventCancel {
				_ = src.cancelInternal(context.Background(), ErrDestinationClosed)
			}
			return "dest_closed", ErrDestinationClosed
		}
		if ctx.Err() != nil {
			reason := context.Cause(ctx)
			if !opts.PreventAbort {
				_ = dest.abortInternal(context.Background(), reason)
			}
			if !opts.PreventCancel {
				_ = src.cancelInternal(context.Background(), reason)
			}
			return "canceled", reason
		}
		if src.State() == ReadableClosed {
			return pipeFinishClose(ctx, writer, opts)
		}

		// Hold the read until the destination wants data.
		if _, err := writer.Ready().Await(readCtx); err != nil {
			continue
		}

		chunk, done, err := reader.Read(readCtx)
		if err != nil {
			// Terminal cause surfaces through the state checks above.
			continue
		}
		if done {
			return pipeFinishClose(ctx, writer, opts)
		}

		// The write is not awaited: backpressure is already respected via
		// Ready, and a sink failure surfaces as a destination error on the
		// next iteration.
		if _, err := dest.controller.write(chunk); err != nil {
			continue
		}
	}
}

func pipeFinishClose[T any](ctx context.Context, writer *Writer[T], opts PipeOptions) (string, error) {
	if opts.PreventClose {
		return "completed", nil
	}
	if err := writer.stream.closeInternal(ctx); err != nil {
		return "close_failed", err
	}
	return "completed", nil
}

// PipeThrough connects src to the writable side of ts and returns the
// readable side. The pipe runs on its own goroutine; its terminal error, if
// any, propagates to the returned stream through the transform. It fails
// with ErrStreamLocked when either stream is already locked.
func PipeThrough[T, U any](ctx context.Context, src *ReadableStream[T], ts *TransformStream[T, U], opts PipeOptions) (*ReadableStream[U], error) {
	if src.Locked() || ts.Writable().Locked() {
		return nil, ErrStreamLocked
	}
	go func() {
		_ = src.PipeTo(ctx, ts.Writable(), opts)
	}()
	return ts.Readable(), nil
}

// closingOrClosed reports whether the stream is closed or a close has been
// requested.
func (s *WritableStream[T]) closingOrClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == WritableClosed || s.closeQueuedLocked()
}
