package stream

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff yields reconnect delays: base, base*m, base*m^2, ... capped at max.
// Every returned delay lies within [base, max], jitter included.
type Backoff struct {
	mu   sync.Mutex
	exp  *backoff.ExponentialBackOff
	base time.Duration
	max  time.Duration
	last time.Duration
}

// NewBackoff builds a backoff policy. A jitter of 0 makes the sequence
// deterministic.
func NewBackoff(base, max time.Duration, multiplier, jitter float64) *Backoff {
	if base <= 0 {
		base = defaultReconnectBaseDelay
	}
	if max < base {
		max = base
	}
	if multiplier < 1 {
		multiplier = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.Reset()
	return &Backoff{exp: exp, base: base, max: max}
}

// Next returns the delay to wait now and grows the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.exp.NextBackOff()
	if d < b.base {
		d = b.base
	}
	if d > b.max {
		d = b.max
	}
	b.last = d
	return d
}

// Reset returns the sequence to the base delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exp.Reset()
	b.last = 0
}

// Last is the most recently returned delay, zero after Reset.
func (b *Backoff) Last() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
