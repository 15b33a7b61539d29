package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulc-app/license-server/internal/clock"
)

func TestMemoryLimiterBlocksAtLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk, 1, time.Minute)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk, 3, time.Minute)
	ctx := context.Background()

	for _, key := range []string{"user-1", "user-2", "user-3"} {
		_, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.Len(t, limiter.attempts, 3)

	// Once every tracked attempt has aged out, the next call sweeps the map.
	clk.Advance(2 * time.Minute)
	_, err := limiter.Allow(ctx, "user-4")
	require.NoError(t, err)
	assert.Len(t, limiter.attempts, 1)
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clk, 2, time.Minute)
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "user-1")
	assert.True(t, allowed)

	clk.Advance(40 * time.Second)
	allowed, _ = limiter.Allow(ctx, "user-1")
	assert.True(t, allowed)

	allowed, _ = limiter.Allow(ctx, "user-1")
	assert.False(t, allowed)

	// The first attempt ages out, the second is still inside the window.
	clk.Advance(30 * time.Second)
	allowed, _ = limiter.Allow(ctx, "user-1")
	assert.True(t, allowed)

	allowed, _ = limiter.Allow(ctx, "user-1")
	assert.False(t, allowed)
}
