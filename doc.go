/*
Package streamkit provides composable streaming primitives: readable,
writable and transform streams with backpressure, piping and teeing.

Streams (pkg/streams):
  - ReadableStream: pull-based chunk source, default or byte-oriented (BYOB)
  - WritableStream: sink with queued writes and backpressure signaling
  - TransformStream: readable/writable pair joined by a transform callback
  - PipeTo / PipeThrough / Tee: composition with shutdown propagation

Resources (pkg/resource):
  - byte streams over io.ReadCloser / io.WriteCloser and OS files
  - fast-path extraction of the untouched underlying endpoint

Sources (pkg/sources):
  - redisqueue: streams over Redis lists (BLPOP / RPUSH)
  - schedule: cron-driven tick streams

Transforms (pkg/transforms):
  - throttle: token-bucket pacing of a stream's chunks

Example usage:

	import (
		"github.com/vnykmshr/streamkit/pkg/resource"
		"github.com/vnykmshr/streamkit/pkg/streams"
	)

	src, _ := resource.OpenReadable("in.dat", resource.Config{})
	dst, _ := resource.OpenWritable("out.dat", resource.Config{})

	err := src.Stream().PipeTo(ctx, dst.Stream(), streams.PipeOptions{})
*/
package streamkit
