package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 0})

	for range 100 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Zero(t, l.GetMetrics().Waits)
}

func TestLimiter_BurstPassesImmediately(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1, Burst: 3})

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1, Burst: 1})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, l.Wait(ctx), "second call within the minute must not fit the deadline")
}

func TestLimiter_PacesCalls(t *testing.T) {
	// 1200/min is one call every 50ms
	l := NewLimiter(Config{RequestsPerMinute: 1200, Burst: 1})

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Positive(t, l.GetMetrics().Waits)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 1, cfg.Burst)
}
