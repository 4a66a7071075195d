/*
Package sources provides ready-made underlying sources and sinks that bind
streams to external systems.

Available bindings:

  - redisqueue: readable/writable streams over Redis lists (BLPOP / RPUSH)
  - schedule: readable streams of cron firing times

Each binding is an ordinary stream: it composes with pipes, tees and
transforms like any other.

Feed Redis jobs into a pipeline:

	src, err := redisqueue.NewReadable(redisqueue.Config{
		Redis: client,
		Key:   "jobs",
	})
	if err != nil {
		log.Fatal(err)
	}
	err = src.PipeTo(ctx, dst, streams.PipeOptions{})
*/
package sources
