package streams

import (
	"context"
	"sync"

	"github.com/vnykmshr/streamkit/pkg/promise"
)

// Transformer supplies the callbacks of a transform stream. All callbacks
// are optional; a nil Transform passes chunks through unchanged when I and O
// are the same type (otherwise chunks are dropped).
type Transformer[I, O any] struct {
	// Start is invoked once during construction.
	Start func(*TransformController[I, O]) error

	// Transform receives each written chunk and enqueues zero or more
	// results through the controller.
	Transform func(chunk I, c *TransformController[I, O]) error

	// Flush runs after the final chunk, before the readable side closes.
	Flush func(c *TransformController[I, O]) error

	// Cancel runs when either side is aborted or canceled, with the reason.
	Cancel func(reason error) error
}

// TransformStream couples a writable side to a readable side through a
// transformer. Backpressure propagates end to end: the writable side stops
// accepting chunks while the readable side's queue is full.
type TransformStream[I, O any] struct {
	readable   *ReadableStream[O]
	writable   *WritableStream[I]
	controller *TransformController[I, O]

	// backpressure gates the sink's write algorithm; bpChange settles each
	// time it flips, waking waiters.
	bpMu         sync.Mutex
	backpressure bool
	bpChange     *promise.Promise[struct{}]
}

// TransformController lets a transformer enqueue results onto the readable
// side, error the whole stream, or terminate it early.
type TransformController[I, O any] struct {
	ts *TransformStream[I, O]

	transformFn func(chunk I, c *TransformController[I, O]) error
	flushFn     func(c *TransformController[I, O]) error
	cancelFn    func(reason error) error

	// finish dedupes teardown when both sides cancel concurrently.
	finish *promise.Promise[struct{}]
}

// NewTransform creates a transform stream with the default strategies: the
// writable side buffers one chunk, the readable side none, so backpressure
// reaches the producer as early as possible.
func NewTransform[I, O any](t Transformer[I, O]) *TransformStream[I, O] {
	ws := DefaultQueuingStrategy[I]()
	rs := QueuingStrategy[O]{HighWaterMark: 0}
	ts, _ := NewTransformWithStrategies(t, ws, rs)
	return ts
}

// NewTransformWithStrategies creates a transform stream with explicit
// strategies for each side.
func NewTransformWithStrategies[I, O any](
	t Transformer[I, O],
	writableStrategy QueuingStrategy[I],
	readableStrategy QueuingStrategy[O],
) (*TransformStream[I, O], error) {
	writableStrategy, err := writableStrategy.validate()
	if err != nil {
		return nil, err
	}
	readableStrategy, err = readableStrategy.validate()
	if err != nil {
		return nil, err
	}

	ts := &TransformStream[I, O]{bpChange: promise.New[struct{}]()}
	c := &TransformController[I, O]{
		ts:          ts,
		transformFn: t.Transform,
		flushFn:     t.Flush,
		cancelFn:    t.Cancel,
	}
	ts.controller = c

	// The readable side starts with backpressure applied; the first pull
	// lifts it.
	ts.backpressure = true

	ts.readable = newReadableWithAlgorithms(
		func(*DefaultController[O]) error { return ts.sourcePull() },
		ts.sourceCancel,
		readableStrategy,
	)
	ts.writable, _ = NewWritableWithStrategy(UnderlyingSink[I]{
		Write: func(chunk I, _ *WritableController[I]) error { return ts.sinkWrite(chunk) },
		Close: ts.sinkClose,
		Abort: ts.sinkAbort,
	}, writableStrategy)

	if t.Start != nil {
		if err := t.Start(c); err != nil {
			c.Error(err)
		}
	}
	return ts, nil
}

// Readable returns the output side of the transform.
func (ts *TransformStream[I, O]) Readable() *ReadableStream[O] { return ts.readable }

// Writable returns the input side of the transform.
func (ts *TransformStream[I, O]) Writable() *WritableStream[I] { return ts.writable }

// setBackpressure flips the gate and settles the change promise so waiters
// re-check.
func (ts *TransformStream[I, O]) setBackpressure(bp bool) {
	ts.bpMu.Lock()
	if ts.backpressure == bp {
		ts.bpMu.Unlock()
		return
	}
	ts.backpressure = bp
	old := ts.bpChange
	ts.bpChange = promise.New[struct{}]()
	ts.bpMu.Unlock()
	old.Resolve(struct{}{})
}

// unblock drops the gate and settles the current change promise regardless
// of its state, so waiters parked on either side observe a terminal
// transition instead of hanging.
func (ts *TransformStream[I, O]) unblock() {
	ts.bpMu.Lock()
	ts.backpressure = false
	old := ts.bpChange
	ts.bpChange = promise.New[struct{}]()
	ts.bpMu.Unlock()
	old.Resolve(struct{}{})
}

// sinkWrite gates on backpressure, then runs the transformer.
func (ts *TransformStream[I, O]) sinkWrite(chunk I) error {
	for {
		ts.bpMu.Lock()
		bp := ts.backpressure
		change := ts.bpChange
		ts.bpMu.Unlock()
		if !bp {
			break
		}
		if _, err := change.Await(context.Background()); err != nil {
			return err
		}
		if ts.writable.State() == WritableErroring || ts.writable.State() == WritableErrored {
			return ts.writable.Err()
		}
	}
	return ts.controller.perform(chunk)
}

// sinkClose runs the flush algorithm and closes the readable side.
func (ts *TransformStream[I, O]) sinkClose() error {
	c := ts.controller
	flushFn := c.flushFn
	c.clearAlgorithms()

	if flushFn != nil {
		if err := flushFn(c); err != nil {
			ts.errorBoth(err)
			return err
		}
	}
	if ts.readable.State() == ReadableErrored {
		ts.unblock()
		return ts.readable.Err()
	}
	_ = ts.readableController().Close()
	ts.unblock()
	return nil
}

// sinkAbort tears the transform down from the writable side.
func (ts *TransformStream[I, O]) sinkAbort(reason error) error {
	c := ts.controller
	p, mine := c.beginFinish()
	if !mine {
		_, err := p.Await(context.Background())
		return err
	}

	cancelFn := c.cancelFn
	c.clearAlgorithms()
	var err error
	if cancelFn != nil {
		err = cancelFn(reason)
	}
	if err != nil {
		ts.readableController().Error(err)
		ts.unblock()
		p.Reject(err)
		p.MarkHandled()
		return err
	}
	ts.readableController().Error(reason)
	ts.unblock()
	p.Resolve(struct{}{})
	return nil
}

// sourcePull lifts backpressure and completes when it is next applied, so a
// pull stays outstanding until the transformer produces.
func (ts *TransformStream[I, O]) sourcePull() error {
	ts.setBackpressure(false)
	ts.bpMu.Lock()
	change := ts.bpChange
	ts.bpMu.Unlock()
	_, err := change.Await(context.Background())
	return err
}

// sourceCancel tears the transform down from the readable side.
func (ts *TransformStream[I, O]) sourceCancel(reason error) *promise.Promise[struct{}] {
	c := ts.controller
	p, mine := c.beginFinish()
	if !mine {
		return p
	}

	cancelFn := c.cancelFn
	c.clearAlgorithms()
	go func() {
		var err error
		if cancelFn != nil {
			err = cancelFn(reason)
		}
		if err != nil {
			ts.writable.controller.Error(err)
			ts.unblock()
			p.Reject(err)
			p.MarkHandled()
			return
		}
		ts.writable.controller.Error(reason)
		ts.unblock()
		p.Resolve(struct{}{})
	}()
	return p
}

// errorBoth errors the readable side and the writable side with err, waking
// any write gated on backpressure.
func (ts *TransformStream[I, O]) errorBoth(err error) {
	ts.readableController().Error(err)
	ts.writable.controller.Error(err)
	ts.unblock()
}

func (ts *TransformStream[I, O]) readableController() *DefaultController[O] {
	return ts.readable.controller.(*DefaultController[O])
}

// Enqueue places a transform result onto the readable side, re-applying
// backpressure when its queue reaches the high-water mark.
func (c *TransformController[I, O]) Enqueue(chunk O) error {
	ts := c.ts
	if ts.readable.State() != Readable {
		return ErrStreamClosed
	}
	rc := ts.readableController()
	if err := rc.Enqueue(chunk); err != nil {
		ts.writable.controller.Error(err)
		ts.unblock()
		return err
	}
	if desired, ok := rc.DesiredSize(); ok && desired <= 0 {
		ts.setBackpressure(true)
	}
	return nil
}

// Error errors both sides of the transform with err.
func (c *TransformController[I, O]) Error(err error) {
	if err == nil {
		err = ErrStreamErrored
	}
	c.ts.errorBoth(err)
}

// Terminate closes the readable side and errors the writable side with
// ErrTerminated, ending the transform early.
func (c *TransformController[I, O]) Terminate() {
	ts := c.ts
	_ = ts.readableController().Close()
	ts.writable.controller.Error(ErrTerminated)
	ts.unblock()
}

// DesiredSize returns the readable side's remaining queue capacity.
func (c *TransformController[I, O]) DesiredSize() (float64, bool) {
	return c.ts.readableController().DesiredSize()
}

// perform runs the transform algorithm, erroring the stream on failure.
func (c *TransformController[I, O]) perform(chunk I) error {
	fn := c.transformFn
	if fn == nil {
		// Identity fallback: forward the chunk when the types line up.
		if out, ok := any(chunk).(O); ok {
			return c.Enqueue(out)
		}
		return nil
	}
	if err := fn(chunk, c); err != nil {
		c.ts.errorBoth(err)
		return err
	}
	return nil
}

func (c *TransformController[I, O]) clearAlgorithms() {
	c.transformFn = nil
	c.flushFn = nil
	c.cancelFn = nil
}

// beginFinish claims teardown. The second caller observes mine false and
// awaits the first's promise instead of running cancel twice.
func (c *TransformController[I, O]) beginFinish() (p *promise.Promise[struct{}], mine bool) {
	ts := c.ts
	ts.bpMu.Lock()
	defer ts.bpMu.Unlock()
	if c.finish != nil {
		return c.finish, false
	}
	c.finish = promise.New[struct{}]()
	return c.finish, true
}
