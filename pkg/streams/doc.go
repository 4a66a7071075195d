/*
Package streams implements composable streaming primitives with built-in
backpressure: readable streams, writable streams, transforms, piping, and
teeing.

A ReadableStream produces chunks of any type through an exclusive reader; an
underlying source fills it via its controller and is pulled only while the
stream's queue sits below its high-water mark. A WritableStream drains chunks
into an underlying sink one at a time, surfacing backpressure to producers
through the writer's Ready promise. A TransformStream couples the two, with
backpressure propagating end to end.

Basic pipeline:

	src := streams.NewReadable(streams.UnderlyingSource[int]{
		Pull: func(c *streams.DefaultController[int]) error {
			return c.Enqueue(rand.Int())
		},
	})

	dst := streams.NewWritable(streams.UnderlyingSink[int]{
		Write: func(n int, _ *streams.WritableController[int]) error {
			return store(n)
		},
	})

	err := src.PipeTo(ctx, dst, streams.PipeOptions{})

Byte streams (NewReadableByteStream) add zero-copy buffer handoff and BYOB
("bring your own buffer") reads: the consumer lends a buffer, the source
fills it in place, and ownership travels with the data via transfer so no
two parties ever alias mutable bytes.

Queuing strategies (CountQueuingStrategy, ByteLengthQueuingStrategy, or a
custom size function) decide how full is full. Tee splits one stream into
two independently-consumed branches; PipeThrough chains transforms.

All streams are safe for concurrent use. Source, sink, and transformer
callbacks run on engine goroutines, never under internal locks, so they may
block or call back into the controller freely.
*/
package streams
