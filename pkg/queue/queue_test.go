package queue

import (
	"math"
	"testing"

	"github.com/vnykmshr/streamkit/internal/testutil"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New[string]()

	testutil.AssertNoError(t, q.Enqueue("a", 1))
	testutil.AssertNoError(t, q.Enqueue("b", 2))
	testutil.AssertNoError(t, q.Enqueue("c", 3))

	testutil.AssertEqual(t, q.Len(), 3)
	testutil.AssertEqual(t, q.TotalSize(), 6.0)

	v, ok := q.Dequeue()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, v, "a")

	v, _ = q.Dequeue()
	testutil.AssertEqual(t, v, "b")
	testutil.AssertEqual(t, q.TotalSize(), 3.0)

	v, _ = q.Dequeue()
	testutil.AssertEqual(t, v, "c")
	testutil.AssertEqual(t, q.Len(), 0)
	testutil.AssertEqual(t, q.TotalSize(), 0.0)
}

func TestDequeueEmpty(t *testing.T) {
	q := New[int]()
	v, ok := q.Dequeue()
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, v, 0)
}

func TestEnqueueFront(t *testing.T) {
	q := New[int]()
	_ = q.Enqueue(2, 2)
	_ = q.EnqueueFront(1, 1)

	v, _ := q.Dequeue()
	testutil.AssertEqual(t, v, 1)
	v, _ = q.Dequeue()
	testutil.AssertEqual(t, v, 2)
}

func TestEnqueueFrontEmpty(t *testing.T) {
	q := New[int]()
	_ = q.EnqueueFront(7, 3)

	testutil.AssertEqual(t, q.Len(), 1)
	testutil.AssertEqual(t, q.TotalSize(), 3.0)

	v, _ := q.Dequeue()
	testutil.AssertEqual(t, v, 7)
}

func TestPeek(t *testing.T) {
	q := New[string]()
	_, ok := q.Peek()
	testutil.AssertEqual(t, ok, false)

	_ = q.Enqueue("head", 1)
	_ = q.Enqueue("tail", 1)

	v, ok := q.Peek()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, v, "head")
	testutil.AssertEqual(t, q.Len(), 2)
}

func TestInvalidSizes(t *testing.T) {
	q := New[int]()

	testutil.AssertError(t, q.Enqueue(1, -1))
	testutil.AssertError(t, q.Enqueue(1, math.NaN()))
	testutil.AssertError(t, q.Enqueue(1, math.Inf(1)))
	testutil.AssertEqual(t, q.Len(), 0)

	// Zero is a legal size.
	testutil.AssertNoError(t, q.Enqueue(1, 0))
	testutil.AssertEqual(t, q.TotalSize(), 0.0)
}

func TestReset(t *testing.T) {
	q := New[int]()
	_ = q.Enqueue(1, 1)
	_ = q.Enqueue(2, 1)

	q.Reset()
	testutil.AssertEqual(t, q.Len(), 0)
	testutil.AssertEqual(t, q.TotalSize(), 0.0)

	_, ok := q.Dequeue()
	testutil.AssertEqual(t, ok, false)
}

func TestTotalSizeNeverNegative(t *testing.T) {
	q := New[int]()
	// Sizes that cannot sum exactly in floating point.
	_ = q.Enqueue(1, 0.1)
	_ = q.Enqueue(2, 0.2)

	q.Dequeue()
	q.Dequeue()
	if q.TotalSize() < 0 {
		t.Fatalf("total size went negative: %v", q.TotalSize())
	}
}
