package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsToCeiling(t *testing.T) {
	b := NewBackoff(3*time.Second, 30*time.Second, 1.5, 0)

	want := []time.Duration{
		3 * time.Second,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10125 * time.Millisecond,
		15187500 * time.Microsecond,
		22781250 * time.Microsecond,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "step %d", i)
	}
	assert.Equal(t, 30*time.Second, b.Last())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second, 2, 0)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()
	assert.Zero(t, b.Last())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	base, max := 3*time.Second, 30*time.Second
	b := NewBackoff(base, max, 1.5, 0.5)

	for i := 0; i < 50; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, max)
	}
}

func TestNewBackoffSanitizesInput(t *testing.T) {
	b := NewBackoff(0, time.Millisecond, 0.5, 0)
	first := b.Next()
	assert.Equal(t, defaultReconnectBaseDelay, first)
	assert.Equal(t, first, b.Next(), "max below base collapses to base")
}
