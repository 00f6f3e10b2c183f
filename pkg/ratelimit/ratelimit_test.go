package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(3, time.Second)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow())
	}
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.Remaining())

	// Partial intervals carry over.
	now = now.Add(1500 * time.Millisecond)
	assert.Equal(t, 1, tb.Remaining())
	now = now.Add(500 * time.Millisecond)
	assert.Equal(t, 2, tb.Remaining())

	// Never above capacity.
	now = now.Add(time.Hour)
	assert.Equal(t, 3, tb.Remaining())
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 20*time.Millisecond)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestPerMinute(t *testing.T) {
	tb := PerMinute(30)
	assert.Equal(t, 30, tb.Remaining())
	assert.Equal(t, 2*time.Second, tb.interval)
	assert.Equal(t, 1, PerMinute(0).capacity)
}
