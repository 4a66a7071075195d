/*
Package throttle provides a rate-limiting transform stream.

The transform is an identity stage that prices each chunk with a cost
function and delays delivery so the total cost stays within a token-bucket
allowance. Because the delay happens inside the transform callback, the
stream's own backpressure holds the producer back while a chunk waits;
nothing is dropped.

Throttle a pipe to 64 KiB/s with a short burst:

	ts, err := throttle.NewTransform(throttle.Config[[]byte]{
		Rate:  64 * 1024,
		Burst: 8 * 1024,
		Cost:  func(b []byte) float64 { return float64(len(b)) },
	})
	if err != nil {
		log.Fatal(err)
	}
	out, err := streams.PipeThrough(ctx, src, ts, streams.PipeOptions{})
*/
package throttle
