package promise

import (
	"context"
	"sync"
	"sync/atomic"
)

// Promise is a single-assignment future. It starts pending and is settled at
// most once, either with a value (Resolve) or an error (Reject). Settling an
// already-settled promise is a documented no-op rather than a panic: several
// stream teardown paths can race to settle the same promise, and the first
// one wins.
type Promise[T any] struct {
	done    chan struct{}
	mu      sync.Mutex
	settled bool
	value   T
	err     error
	handled int32 // atomic
}

// New creates a pending promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolved creates a promise already settled with the given value.
func Resolved[T any](value T) *Promise[T] {
	p := New[T]()
	p.Resolve(value)
	return p
}

// Rejected creates a promise already settled with the given error.
func Rejected[T any](err error) *Promise[T] {
	p := New[T]()
	p.Reject(err)
	return p
}

// Resolve settles the promise with a value. It reports whether this call
// performed the settlement; false means the promise was already settled and
// the call changed nothing.
func (p *Promise[T]) Resolve(value T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled {
		return false
	}
	p.settled = true
	p.value = value
	close(p.done)
	return true
}

// Reject settles the promise with an error. Like Resolve, a second settlement
// attempt is a no-op.
func (p *Promise[T]) Reject(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled {
		return false
	}
	p.settled = true
	p.err = err
	close(p.done)
	return true
}

// Await blocks until the promise settles or ctx is done, whichever happens
// first. It returns the settled value or error; if ctx wins the race, it
// returns ctx.Err() and the promise remains usable.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		select {
		case <-p.done:
			// Settled concurrently with cancellation; prefer the result.
		default:
			var zero T
			return zero, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Done returns a channel closed when the promise settles.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled value and error. It must only be called after
// Done is closed; before settlement it returns zero values.
func (p *Promise[T]) Result() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise[T]) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// MarkHandled records that the promise's eventual rejection has an observer.
// The engine marks internal closed-promises handled after erroring a stream
// so that diagnostics do not flag them; the stored error itself is unaffected
// and remains retrievable.
func (p *Promise[T]) MarkHandled() {
	atomic.StoreInt32(&p.handled, 1)
}

// Handled reports whether MarkHandled has been called.
func (p *Promise[T]) Handled() bool {
	return atomic.LoadInt32(&p.handled) != 0
}
