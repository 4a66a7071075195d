package streams

// ReadableState is the lifecycle state of a readable stream. Transitions are
// monotonic: readable moves to closed or errored and never back.
type ReadableState int

const (
	// Readable means the stream may still produce chunks.
	Readable ReadableState = iota

	// ReadableClosed is the terminal state after a successful close.
	ReadableClosed

	// ReadableErrored is the terminal state after an error.
	ReadableErrored
)

// String returns the state name.
func (s ReadableState) String() string {
	switch s {
	case Readable:
		return "readable"
	case ReadableClosed:
		return "closed"
	case ReadableErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// WritableState is the lifecycle state of a writable stream. Erroring is a
// distinct transient state: an error has been initiated but in-flight
// operations must drain before the stream becomes errored.
type WritableState int

const (
	// Writable means the stream accepts writes.
	Writable WritableState = iota

	// WritableErroring means erroring has started but an in-flight write or
	// close has not yet settled.
	WritableErroring

	// WritableClosed is the terminal state after a successful close.
	WritableClosed

	// WritableErrored is the terminal state after erroring finishes.
	WritableErrored
)

// String returns the state name.
func (s WritableState) String() string {
	switch s {
	case Writable:
		return "writable"
	case WritableErroring:
		return "erroring"
	case WritableClosed:
		return "closed"
	case WritableErrored:
		return "errored"
	default:
		return "unknown"
	}
}
