package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/streamkit/pkg/streams"
)

// ErrEmptyExpression is returned for an empty cron expression.
var ErrEmptyExpression = errors.New("schedule: empty cron expression")

// Config tunes a schedule-driven stream.
type Config struct {
	// Expression is a cron expression in the standard five-field format,
	// or a descriptor like "@hourly" or "@every 30s". Required.
	Expression string

	// TimeZone evaluates the expression; defaults to time.Local.
	TimeZone *time.Location

	// Strategy bounds how many ticks buffer while the consumer lags.
	// Defaults to a count strategy with high-water mark 1. Ticks beyond
	// the mark are dropped, not queued: a tick that nobody consumed in
	// time is stale by definition.
	Strategy streams.QueuingStrategy[time.Time]
}

// parser accepts the standard five-field format plus descriptors, matching
// the common crontab dialect.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a cron expression without building a stream.
func Validate(expr string) error {
	if expr == "" {
		return ErrEmptyExpression
	}
	_, err := parser.Parse(expr)
	return err
}

// NewReadable creates a readable stream that emits the scheduled firing
// times of a cron expression. Ticks that fire while the stream's queue is
// full are dropped rather than delivered late. Canceling the stream stops
// the timer.
func NewReadable(cfg Config) (*streams.ReadableStream[time.Time], error) {
	if cfg.Expression == "" {
		return nil, ErrEmptyExpression
	}
	sched, err := parser.Parse(cfg.Expression)
	if err != nil {
		return nil, err
	}
	loc := cfg.TimeZone
	if loc == nil {
		loc = time.Local
	}
	strategy := cfg.Strategy
	if strategy.HighWaterMark == 0 && strategy.Size == nil {
		strategy = streams.DefaultQueuingStrategy[time.Time]()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s, err := streams.NewReadableWithStrategy(streams.UnderlyingSource[time.Time]{
		Start: func(c *streams.DefaultController[time.Time]) error {
			go run(ctx, c, sched, loc)
			return nil
		},
		Cancel: func(error) error {
			cancel()
			return nil
		},
	}, strategy)
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// run fires the schedule until ctx is canceled. The stream closes if the
// expression has no future firing times.
func run(ctx context.Context, c *streams.DefaultController[time.Time], sched cron.Schedule, loc *time.Location) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		next := sched.Next(time.Now().In(loc))
		if next.IsZero() {
			_ = c.Close()
			return
		}
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if desired, ok := c.DesiredSize(); !ok {
				return
			} else if desired <= 0 {
				// Consumer is behind; this tick is already stale.
				continue
			}
			if err := c.Enqueue(next); err != nil {
				return
			}
		}
	}
}
