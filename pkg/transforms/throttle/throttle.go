package throttle

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/streamkit/pkg/streams"
)

// ErrInvalidRate is returned for a non-positive rate.
var ErrInvalidRate = errors.New("throttle: rate must be positive")

// Config tunes a throttling transform.
type Config[T any] struct {
	// Rate is the sustained allowance in cost units per second. Required.
	Rate float64

	// Burst is the bucket capacity in cost units; chunks whose cost fits
	// in the accumulated allowance pass without waiting. Defaults to Rate.
	Burst float64

	// Cost prices a chunk in units. Defaults to 1 per chunk; use a
	// byte-length function to throttle by throughput instead.
	Cost func(T) float64
}

// NewTransform creates an identity transform that delays chunks so their
// total cost never exceeds the configured rate. Backpressure propagates
// upstream through the transform's writable side while a chunk waits.
func NewTransform[T any](cfg Config[T]) (*streams.TransformStream[T, T], error) {
	if cfg.Rate <= 0 || math.IsInf(cfg.Rate, 0) || math.IsNaN(cfg.Rate) {
		return nil, ErrInvalidRate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	cost := cfg.Cost
	if cost == nil {
		cost = func(T) float64 { return 1 }
	}

	lim := &limiter{rate: cfg.Rate, burst: burst, tokens: burst, last: time.Now()}

	return streams.NewTransform(streams.Transformer[T, T]{
		Transform: func(chunk T, c *streams.TransformController[T, T]) error {
			if wait := lim.reserve(cost(chunk)); wait > 0 {
				time.Sleep(wait)
			}
			return c.Enqueue(chunk)
		},
	}), nil
}

// limiter is a token bucket whose allowance accrues continuously. reserve
// debits the bucket immediately, letting tokens go negative, and returns how
// long the caller must wait before acting on the reservation.
type limiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func (l *limiter) reserve(cost float64) time.Duration {
	if cost <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.tokens = math.Min(l.tokens+elapsed.Seconds()*l.rate, l.burst)
	}
	l.last = now

	l.tokens -= cost
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}
