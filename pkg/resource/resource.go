package resource

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/streams"
)

// ErrNotExtractable is returned by Extract once the stream has been read
// from, locked, or already extracted.
var ErrNotExtractable = errors.New("resource: stream already consumed or locked")

// ErrExtracted is the terminal error of a stream whose underlying resource
// was taken back via Extract.
var ErrExtracted = errors.New("resource: underlying resource extracted")

// DefaultChunkSize is the per-read buffer size when Config leaves it unset.
const DefaultChunkSize = 32 * 1024

// Config tunes a resource-backed stream.
type Config struct {
	// ChunkSize is the byte count read from the resource per pull.
	// Defaults to DefaultChunkSize.
	ChunkSize int

	// AutoClose closes the underlying resource when the stream closes,
	// errors, or is canceled. Extracted resources are never auto-closed.
	AutoClose bool

	// Name labels the handle; a UUID is generated when empty.
	Name string
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	return c
}

// Readable is a byte stream backed by an io.ReadCloser. The stream pulls
// from the reader on demand; until the first read the underlying resource
// can be taken back intact with Extract.
type Readable struct {
	cfg    Config
	stream *streams.ReadableStream[[]byte]

	mu        sync.Mutex
	src       io.ReadCloser
	extracted bool
	closed    bool
}

// NewReadable wraps rc in a resource-backed byte stream. Reads from rc
// happen on engine goroutines, directly into consumer-supplied buffers when
// a BYOB read is waiting. A finalizer closes rc if the handle is dropped
// unconsumed and AutoClose is set.
func NewReadable(rc io.ReadCloser, cfg Config) *Readable {
	r := &Readable{cfg: cfg.withDefaults(), src: rc}

	r.stream = streams.NewReadableByteStream(streams.UnderlyingByteSource{
		Pull:                  r.pull,
		Cancel:                func(error) error { return r.release() },
		AutoAllocateChunkSize: r.cfg.ChunkSize,
	})

	metrics.DefaultRegistry.ResourceHandles.WithLabelValues("readable").Inc()
	if r.cfg.AutoClose {
		runtime.SetFinalizer(r, finalizeReadable)
	}
	return r
}

// OpenReadable opens the file at path as a resource-backed byte stream that
// closes the file when the stream finishes.
func OpenReadable(path string, cfg Config) (*Readable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cfg.AutoClose = true
	if cfg.Name == "" {
		cfg.Name = path
	}
	return NewReadable(f, cfg), nil
}

// Stream returns the byte stream over the resource.
func (r *Readable) Stream() *streams.ReadableStream[[]byte] { return r.stream }

// Name returns the handle's label.
func (r *Readable) Name() string { return r.cfg.Name }

// Extract takes the underlying reader back, detaching it from the stream.
// It succeeds only while the stream is pristine: never read from, never
// canceled, not locked. The stream is canceled with ErrExtracted and the
// caller assumes ownership of the returned reader.
func (r *Readable) Extract() (io.ReadCloser, error) {
	if r.stream.Disturbed() || r.stream.Locked() {
		return nil, ErrNotExtractable
	}

	r.mu.Lock()
	if r.extracted || r.closed || r.src == nil {
		r.mu.Unlock()
		return nil, ErrNotExtractable
	}
	r.extracted = true
	src := r.src
	r.src = nil
	r.mu.Unlock()

	runtime.SetFinalizer(r, nil)
	// src is already detached, so the cancel callback has nothing to close.
	_ = r.stream.Cancel(context.Background(), ErrExtracted)
	metrics.DefaultRegistry.ResourceExtracts.WithLabelValues("readable").Inc()
	return src, nil
}

// pull reads one chunk from the resource. When a read-into is pending the
// bytes land straight in the consumer's buffer; otherwise they go through
// an auto-allocated buffer.
func (r *Readable) pull(c *streams.ByteController) error {
	r.mu.Lock()
	src := r.src
	r.mu.Unlock()
	if src == nil {
		return ErrExtracted
	}

	if req := c.BYOBRequest(); req != nil && req.View() != nil {
		buf, err := req.View().Bytes()
		if err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := req.Respond(n); err != nil {
				return err
			}
		}
		return r.afterRead(c, n, rerr)
	}

	buf := make([]byte, r.cfg.ChunkSize)
	n, rerr := src.Read(buf)
	if n > 0 {
		if err := c.Enqueue(streams.ViewOf(buf[:n])); err != nil {
			return err
		}
	}
	return r.afterRead(c, n, rerr)
}

func (r *Readable) afterRead(c *streams.ByteController, n int, rerr error) error {
	switch {
	case rerr == nil:
		return nil
	case errors.Is(rerr, io.EOF):
		_ = c.Close()
		// Hand back any buffer a pending read-into still holds.
		if req := c.BYOBRequest(); req != nil {
			_ = req.Respond(0)
		}
		_ = r.release()
		return nil
	default:
		_ = r.release()
		return rerr
	}
}

// release closes the underlying reader once, honoring AutoClose.
func (r *Readable) release() error {
	r.mu.Lock()
	src := r.src
	r.src = nil
	closed := r.closed
	r.closed = true
	r.mu.Unlock()

	runtime.SetFinalizer(r, nil)
	if src == nil || closed || !r.cfg.AutoClose {
		return nil
	}
	return src.Close()
}

func finalizeReadable(r *Readable) {
	metrics.DefaultRegistry.ResourceFinalizers.WithLabelValues("readable").Inc()
	_ = r.release()
}

// Writable is a writable byte stream backed by an io.WriteCloser.
type Writable struct {
	cfg    Config
	stream *streams.WritableStream[[]byte]

	mu     sync.Mutex
	dst    io.WriteCloser
	closed bool
}

// NewWritable wraps wc in a resource-backed writable stream. Each written
// chunk is flushed to wc in full before the next is accepted.
func NewWritable(wc io.WriteCloser, cfg Config) *Writable {
	w := &Writable{cfg: cfg.withDefaults(), dst: wc}

	w.stream = streams.NewWritable(streams.UnderlyingSink[[]byte]{
		Write: w.write,
		Close: w.release,
		Abort: func(error) error { return w.release() },
	})

	metrics.DefaultRegistry.ResourceHandles.WithLabelValues("writable").Inc()
	if w.cfg.AutoClose {
		runtime.SetFinalizer(w, finalizeWritable)
	}
	return w
}

// OpenWritable creates or truncates the file at path as a resource-backed
// writable stream that closes the file when the stream finishes.
func OpenWritable(path string, cfg Config) (*Writable, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cfg.AutoClose = true
	if cfg.Name == "" {
		cfg.Name = path
	}
	return NewWritable(f, cfg), nil
}

// Stream returns the writable stream over the resource.
func (w *Writable) Stream() *streams.WritableStream[[]byte] { return w.stream }

// Name returns the handle's label.
func (w *Writable) Name() string { return w.cfg.Name }

func (w *Writable) write(chunk []byte, _ *streams.WritableController[[]byte]) error {
	w.mu.Lock()
	dst := w.dst
	w.mu.Unlock()
	if dst == nil {
		return ErrExtracted
	}

	for len(chunk) > 0 {
		n, err := dst.Write(chunk)
		if err != nil {
			_ = w.release()
			return err
		}
		chunk = chunk[n:]
	}
	return nil
}

func (w *Writable) release() error {
	w.mu.Lock()
	dst := w.dst
	w.dst = nil
	closed := w.closed
	w.closed = true
	w.mu.Unlock()

	runtime.SetFinalizer(w, nil)
	if dst == nil || closed || !w.cfg.AutoClose {
		return nil
	}
	return dst.Close()
}

func finalizeWritable(w *Writable) {
	metrics.DefaultRegistry.ResourceFinalizers.WithLabelValues("writable").Inc()
	_ = w.release()
}
