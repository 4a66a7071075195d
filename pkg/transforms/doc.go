/*
Package transforms provides reusable transform stream stages.

Available stages:

  - throttle: token-bucket pacing with a pluggable per-chunk cost function

Stages plug into pipelines through PipeThrough:

	pacer, err := throttle.NewTransform(throttle.Config[[]byte]{Rate: 1 << 20})
	if err != nil {
		log.Fatal(err)
	}
	out, err := streams.PipeThrough(ctx, src, pacer, streams.PipeOptions{})
*/
package transforms
