package stream

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Keepalive calls send every interval between Start and Stop.
type Keepalive struct {
	clock    Clock
	interval time.Duration
	send     func() error
	log      *logrus.Entry

	mu      sync.Mutex
	running bool
	seq     uint64
	timer   Timer
	sent    uint64
}

// NewKeepalive returns a stopped monitor.
func NewKeepalive(clock Clock, interval time.Duration, send func() error, log *logrus.Entry) *Keepalive {
	if clock == nil {
		clock = realClock{}
	}
	if interval <= 0 {
		interval = defaultPingInterval
	}
	if log == nil {
		log = logrus.WithField("module", "stream")
	}
	return &Keepalive{clock: clock, interval: interval, send: send, log: log}
}

// Start arms the first probe. It is a no-op while running.
func (k *Keepalive) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	k.running = true
	k.seq++
	k.armLocked(k.seq)
}

// Stop cancels the pending probe. Stopping a stopped monitor is a no-op.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}
	k.running = false
	k.seq++
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// Running reports whether probes are scheduled.
func (k *Keepalive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Sent returns the number of probes sent without error.
func (k *Keepalive) Sent() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sent
}

func (k *Keepalive) armLocked(seq uint64) {
	k.timer = k.clock.AfterFunc(k.interval, func() { k.fire(seq) })
}

func (k *Keepalive) fire(seq uint64) {
	k.mu.Lock()
	if !k.running || seq != k.seq {
		k.mu.Unlock()
		return
	}
	k.timer = nil
	k.mu.Unlock()

	// send takes the client lock, so it runs without ours.
	err := k.send()
	if err != nil {
		k.log.Warnf("keepalive probe failed: %v", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err == nil {
		k.sent++
	}
	if k.running && seq == k.seq && k.timer == nil {
		k.armLocked(seq)
	}
}
