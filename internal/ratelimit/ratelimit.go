package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces calls to an external API that enforces a per-minute quota.
// Unlike a rejecting limiter, Wait blocks until the call may proceed.
type Limiter struct {
	limiter *rate.Limiter

	waits  int64
	waited int64 // total nanoseconds spent waiting
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	Burst             int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		Burst:             1,
	}
}

// NewLimiter creates a new rate limiter. A non-positive RequestsPerMinute
// disables limiting.
func NewLimiter(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, config.Burst),
	}
}

// Wait blocks until a call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if d := time.Since(start); d > time.Millisecond {
		atomic.AddInt64(&l.waits, 1)
		atomic.AddInt64(&l.waited, int64(d))
	}
	return nil
}

// Metrics for monitoring rate limit pressure
type Metrics struct {
	Waits     int64
	TotalWait time.Duration
}

// GetMetrics returns current rate limiting metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		Waits:     atomic.LoadInt64(&l.waits),
		TotalWait: time.Duration(atomic.LoadInt64(&l.waited)),
	}
}
