package streams

import "sync/atomic"

// Buffer is a transferable backing store for byte chunks. Ownership moves by
// transfer: Transfer hands the underlying bytes to a new Buffer and detaches
// the old one, after which every access through the old handle fails with
// ErrBufferDetached. The engine transfers a chunk's buffer the moment it is
// enqueued, so a producer can never mutate bytes a consumer may already be
// observing.
type Buffer struct {
	data     []byte
	detached int32 // atomic
}

// NewBuffer allocates a zeroed buffer of n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{data: make([]byte, n)}
}

// NewBufferFrom wraps b without copying. The caller hands ownership of b to
// the buffer and must not retain the slice.
func NewBufferFrom(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Len returns the buffer's byte length, or 0 once detached.
func (b *Buffer) Len() int {
	if b.Detached() {
		return 0
	}
	return len(b.data)
}

// Bytes returns the backing slice, or ErrBufferDetached after a transfer.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.Detached() {
		return nil, ErrBufferDetached
	}
	return b.data, nil
}

// Transfer moves the backing bytes into a fresh Buffer and detaches the
// receiver. The returned buffer is the sole owner of the bytes.
func (b *Buffer) Transfer() (*Buffer, error) {
	if !atomic.CompareAndSwapInt32(&b.detached, 0, 1) {
		return nil, ErrBufferDetached
	}
	moved := &Buffer{data: b.data}
	b.data = nil
	return moved, nil
}

// Detached reports whether ownership of the bytes has been transferred away.
func (b *Buffer) Detached() bool {
	return atomic.LoadInt32(&b.detached) != 0
}

// View is a typed window over a Buffer, the analogue of a typed-array view.
// ElementSize expresses the granularity a BYOB consumer reads at: a view
// with element size 4 is only ever filled in multiples of 4 bytes, and
// leftover bytes past the last element boundary are re-queued rather than
// lost.
type View struct {
	buffer     *Buffer
	byteOffset int
	byteLength int
	elemSize   int
}

// NewView creates a byte-granular view over buf covering [offset, offset+length).
func NewView(buf *Buffer, offset, length int) (*View, error) {
	return NewViewWithElementSize(buf, offset, length, 1)
}

// NewViewWithElementSize creates a view whose length must be a multiple of
// elementSize.
func NewViewWithElementSize(buf *Buffer, offset, length, elementSize int) (*View, error) {
	if buf == nil || offset < 0 || length < 0 || elementSize <= 0 {
		return nil, ErrInvalidView
	}
	if length%elementSize != 0 {
		return nil, ErrInvalidView
	}
	if !buf.Detached() && offset+length > len(buf.data) {
		return nil, ErrInvalidView
	}
	return &View{buffer: buf, byteOffset: offset, byteLength: length, elemSize: elementSize}, nil
}

// ViewOf wraps b in a single-use buffer and returns a view spanning it.
func ViewOf(b []byte) *View {
	buf := NewBufferFrom(b)
	return &View{buffer: buf, byteOffset: 0, byteLength: len(b), elemSize: 1}
}

// Buffer returns the view's backing buffer handle.
func (v *View) Buffer() *Buffer { return v.buffer }

// ByteOffset returns the view's starting offset within its buffer.
func (v *View) ByteOffset() int { return v.byteOffset }

// ByteLength returns the view's length in bytes.
func (v *View) ByteLength() int { return v.byteLength }

// ElementSize returns the view's element granularity in bytes.
func (v *View) ElementSize() int { return v.elemSize }

// Bytes returns the window's bytes, or ErrBufferDetached if the backing
// buffer has been transferred away.
func (v *View) Bytes() ([]byte, error) {
	data, err := v.buffer.Bytes()
	if err != nil {
		return nil, err
	}
	return data[v.byteOffset : v.byteOffset+v.byteLength], nil
}
