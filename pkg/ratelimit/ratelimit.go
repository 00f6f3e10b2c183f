package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound calls.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket holds up to capacity tokens and adds one every interval.
type TokenBucket struct {
	capacity int
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket allows bursts of capacity and a sustained rate of one call
// per interval.
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   capacity,
		interval:   interval,
		now:        time.Now,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// PerMinute returns a bucket allowing n calls a minute with bursts of n.
func PerMinute(n int) *TokenBucket {
	if n < 1 {
		n = 1
	}
	return NewTokenBucket(n, time.Minute/time.Duration(n))
}

// refill credits whole intervals only, keeping the remainder for next time.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < tb.interval {
		return
	}
	n := int(elapsed / tb.interval)
	tb.tokens = min(tb.capacity, tb.tokens+n)
	if tb.tokens == tb.capacity {
		tb.lastRefill = now
	} else {
		tb.lastRefill = tb.lastRefill.Add(time.Duration(n) * tb.interval)
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx ends.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens > 0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := tb.interval - tb.now().Sub(tb.lastRefill)
		tb.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}
