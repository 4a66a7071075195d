package streams

import (
	"fmt"
	"math"
)

// QueuingStrategy controls how much data a stream buffers before signaling
// backpressure.
type QueuingStrategy[T any] struct {
	// HighWaterMark is the total chunk size the queue may hold before the
	// stream's desired size reaches zero.
	HighWaterMark float64

	// Size returns the size of a chunk. A nil Size counts every chunk as 1.
	Size func(chunk T) float64
}

// CountQueuingStrategy returns a strategy that counts each chunk as 1.
func CountQueuingStrategy[T any](highWaterMark float64) QueuingStrategy[T] {
	return QueuingStrategy[T]{
		HighWaterMark: highWaterMark,
		Size:          func(T) float64 { return 1 },
	}
}

// ByteLengthQueuingStrategy returns a strategy that sizes chunks by byte length.
func ByteLengthQueuingStrategy(highWaterMark float64) QueuingStrategy[[]byte] {
	return QueuingStrategy[[]byte]{
		HighWaterMark: highWaterMark,
		Size:          func(chunk []byte) float64 { return float64(len(chunk)) },
	}
}

// DefaultQueuingStrategy returns the strategy applied when none is supplied:
// every chunk counts as 1 and the high-water mark is 1.
func DefaultQueuingStrategy[T any]() QueuingStrategy[T] {
	return CountQueuingStrategy[T](1)
}

// validate checks the high-water mark and fills in the default size function.
func (s QueuingStrategy[T]) validate() (QueuingStrategy[T], error) {
	if s.HighWaterMark < 0 || math.IsNaN(s.HighWaterMark) {
		return s, ErrInvalidHighWaterMark
	}
	if s.Size == nil {
		s.Size = func(T) float64 { return 1 }
	}
	return s, nil
}

// sizeOf computes a chunk's size, converting a panicking or misbehaving size
// function into an error so the failure can error the stream instead of
// unwinding through engine goroutines.
func (s QueuingStrategy[T]) sizeOf(chunk T) (size float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("size function panicked: %v", r)
		}
	}()

	size = s.Size(chunk)
	if size < 0 || math.IsNaN(size) || math.IsInf(size, 1) {
		return 0, fmt.Errorf("size function returned invalid size %v", size)
	}
	return size, nil
}
