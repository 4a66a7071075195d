package testutil

import (
	"bytes"
	"io"
	"sync"
)

// RecordingSink collects everything written through it and can fail a
// chosen write to exercise error paths.
type RecordingSink[T any] struct {
	mu         sync.Mutex
	chunks     []T
	writeCount int
	errOnNth   int // 1-based; 0 disables
	err        error
	closed     bool
	aborted    bool
	abortErr   error
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink[T any]() *RecordingSink[T] {
	return &RecordingSink[T]{}
}

// FailOn makes the nth write (1-based) return err.
func (s *RecordingSink[T]) FailOn(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errOnNth = n
	s.err = err
}

// Write records chunk, failing if configured to.
func (s *RecordingSink[T]) Write(chunk T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCount++
	if s.errOnNth > 0 && s.writeCount == s.errOnNth {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

// Close marks the sink closed.
func (s *RecordingSink[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Abort records the abort reason.
func (s *RecordingSink[T]) Abort(reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.abortErr = reason
	return nil
}

// Chunks returns a copy of everything recorded so far.
func (s *RecordingSink[T]) Chunks() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Closed reports whether Close ran.
func (s *RecordingSink[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Aborted reports whether Abort ran and with what reason.
func (s *RecordingSink[T]) Aborted() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted, s.abortErr
}

// SliceReadCloser serves a fixed byte payload through io.ReadCloser,
// tracking whether it was closed.
type SliceReadCloser struct {
	mu     sync.Mutex
	r      *bytes.Reader
	closed bool
}

// NewSliceReadCloser wraps data.
func NewSliceReadCloser(data []byte) *SliceReadCloser {
	return &SliceReadCloser{r: bytes.NewReader(data)}
}

func (s *SliceReadCloser) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.r.Read(p)
}

// Close marks the reader closed.
func (s *SliceReadCloser) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IsClosed reports whether Close ran.
func (s *SliceReadCloser) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// BufferWriteCloser accumulates writes in memory, optionally failing after
// a byte budget, and tracks closure.
type BufferWriteCloser struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	failAt  int // total bytes after which writes fail; 0 disables
	failErr error
	closed  bool
}

// NewBufferWriteCloser creates an empty write closer.
func NewBufferWriteCloser() *BufferWriteCloser {
	return &BufferWriteCloser{}
}

// FailAfter makes writes fail with err once total bytes written reach n.
func (b *BufferWriteCloser) FailAfter(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAt = n
	b.failErr = err
}

func (b *BufferWriteCloser) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if b.failAt > 0 && b.buf.Len()+len(p) > b.failAt {
		return 0, b.failErr
	}
	return b.buf.Write(p)
}

// Close marks the writer closed.
func (b *BufferWriteCloser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// IsClosed reports whether Close ran.
func (b *BufferWriteCloser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Bytes returns a copy of everything written.
func (b *BufferWriteCloser) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
