package redisqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/streamkit/pkg/streams"
)

// ErrNilClient is returned when Config carries no Redis client.
var ErrNilClient = errors.New("redisqueue: nil redis client")

// ErrNoKey is returned when Config carries no list key.
var ErrNoKey = errors.New("redisqueue: empty key")

// DefaultPopTimeout bounds each blocking pop so cancellation is observed
// promptly even on an idle queue.
const DefaultPopTimeout = 5 * time.Second

// Config describes the Redis list a stream reads from or writes to.
type Config struct {
	// Redis is the client used for all operations. Required.
	Redis redis.UniversalClient

	// Key is the list key. Required.
	Key string

	// PopTimeout bounds each BLPOP issued by a readable stream. Defaults
	// to DefaultPopTimeout.
	PopTimeout time.Duration

	// OpTimeout bounds each RPUSH issued by a writable stream. Zero means
	// no per-op deadline.
	OpTimeout time.Duration
}

func (c Config) validate() error {
	if c.Redis == nil {
		return ErrNilClient
	}
	if c.Key == "" {
		return ErrNoKey
	}
	return nil
}

// NewReadable creates a readable stream fed by BLPOP on the configured list.
// The stream pulls only when a consumer wants data, so an unread stream
// leaves the queue untouched. Canceling the stream stops the polling; the
// client itself is not closed.
func NewReadable(cfg Config) (*streams.ReadableStream[string], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := streams.NewReadable(streams.UnderlyingSource[string]{
		Pull: func(c *streams.DefaultController[string]) error {
			for {
				vals, err := cfg.Redis.BLPop(ctx, popTimeout, cfg.Key).Result()
				if errors.Is(err, redis.Nil) {
					// Timed out empty; only keep polling while wanted.
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				// BLPOP replies key then value.
				return c.Enqueue(vals[1])
			}
		},
		Cancel: func(error) error {
			cancel()
			return nil
		},
	})
	return s, nil
}

// NewWritable creates a writable stream that RPUSHes each chunk onto the
// configured list. Closing the stream leaves the list and client intact;
// aborting it stops pushes without trimming what was already delivered.
func NewWritable(cfg Config) (*streams.WritableStream[string], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	push := func(ctx context.Context, chunk string) error {
		if cfg.OpTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.OpTimeout)
			defer cancel()
		}
		return cfg.Redis.RPush(ctx, cfg.Key, chunk).Err()
	}

	return streams.NewWritableWithStrategy(streams.UnderlyingSink[string]{
		Write: func(chunk string, c *streams.WritableController[string]) error {
			return push(c.Signal(), chunk)
		},
	}, streams.DefaultQueuingStrategy[string]())
}
