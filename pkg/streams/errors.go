package streams

import "errors"

var (
	// ErrStreamClosed is returned when enqueueing into or closing a stream
	// that has already been closed or asked to close.
	ErrStreamClosed = errors.New("stream is closed or close has been requested")

	// ErrStreamLocked is returned when acquiring a reader or writer on a
	// stream that already has one attached.
	ErrStreamLocked = errors.New("stream is locked to a reader or writer")

	// ErrReaderReleased is returned by operations on a reader whose lock has
	// been released, and rejects reads that were still pending at release.
	ErrReaderReleased = errors.New("reader has been released")

	// ErrWriterReleased is the writer-side counterpart of ErrReaderReleased.
	ErrWriterReleased = errors.New("writer has been released")

	// ErrStreamErrored is the fallback stored error when a stream is errored
	// without an explicit reason.
	ErrStreamErrored = errors.New("stream is errored")

	// ErrCanceled is the default reason recorded when a stream is canceled
	// or aborted without one.
	ErrCanceled = errors.New("stream was canceled")

	// ErrCloseRequested is returned when close is requested twice, or when a
	// write arrives after close has been requested.
	ErrCloseRequested = errors.New("stream close already requested")

	// ErrTerminated is the error the writable side of a transform observes
	// after the transform controller terminates the stream.
	ErrTerminated = errors.New("stream has been terminated")

	// ErrDestinationClosed is the synthetic error used by the pipe algorithm
	// when the destination is closing or closed at call time.
	ErrDestinationClosed = errors.New("destination stream is closing or closed")

	// ErrInvalidHighWaterMark is returned for a negative or NaN high-water mark.
	ErrInvalidHighWaterMark = errors.New("high-water mark must be a non-negative number")

	// ErrBufferDetached is returned on any access to a byte buffer whose
	// ownership has been transferred away.
	ErrBufferDetached = errors.New("buffer has been detached")

	// ErrInvalidView is returned when a byte view's offset, length or element
	// size do not describe a valid window over its buffer.
	ErrInvalidView = errors.New("invalid view geometry")

	// ErrZeroLengthChunk is returned when enqueueing an empty byte chunk.
	ErrZeroLengthChunk = errors.New("chunk must have non-zero byte length")

	// ErrInvalidRespond is returned when a BYOB respond call does not match
	// the pending descriptor's remaining capacity or the stream state.
	ErrInvalidRespond = errors.New("invalid response to pending read-into request")

	// ErrNoPendingRequest is returned when responding while no read-into
	// request is outstanding.
	ErrNoPendingRequest = errors.New("no pending read-into request")

	// ErrNotByteStream is returned when acquiring a BYOB reader on a stream
	// without a byte controller.
	ErrNotByteStream = errors.New("stream is not a byte stream")
)
