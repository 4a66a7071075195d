/*
Package schedule turns a cron expression into a readable stream of firing
times.

Unlike a plain ticker, the stream participates in backpressure: ticks that
fire while the consumer is behind are dropped instead of queueing up, so a
stalled pipeline never replays a burst of stale ticks when it recovers.

	ticks, _ := schedule.NewReadable(schedule.Config{Expression: "@every 1m"})
	reader, _ := ticks.GetReader()
	for {
		at, done, err := reader.Read(ctx)
		...
	}
*/
package schedule
