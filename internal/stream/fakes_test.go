package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the remaining durations of armed timers, shortest first.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory transport. Deliver hands a frame to the reader and
// returns once the reader has asked for the next one, so the frame has been
// fully dispatched.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	writes    []map[string]any
	writeErr  error
	closes    int
	closeGate chan struct{}
	closing   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	for {
		select {
		case data := <-c.in:
			if data == nil {
				continue
			}
			return data, nil
		case <-c.closed:
			return nil, errFakeClosed
		}
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	c.writes = append(c.writes, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	gate, closing := c.closeGate, c.closing
	c.mu.Unlock()

	if closing != nil {
		select {
		case closing <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// BlockClose makes Close wait for gate. The returned channel receives when a
// Close call starts.
func (c *fakeConn) BlockClose(gate chan struct{}) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeGate = gate
	c.closing = make(chan struct{}, 1)
	return c.closing
}

func (c *fakeConn) Deliver(t *testing.T, frame string) {
	t.Helper()
	for _, data := range [][]byte{[]byte(frame), nil} {
		select {
		case c.in <- data:
		case <-c.closed:
			return
		case <-time.After(2 * time.Second):
			t.Fatalf("reader did not take frame %q", frame)
		}
	}
}

// Drop simulates the server going away.
func (c *fakeConn) Drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// WrittenTypes lists the type field of every frame written so far.
func (c *fakeConn) WrittenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		s, _ := w["type"].(string)
		out = append(out, s)
	}
	return out
}

func (c *fakeConn) Writes() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.writes...)
}

func (c *fakeConn) Pings() int {
	n := 0
	for _, typ := range c.WrittenTypes() {
		if typ == "ping" {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns. Queued errors are returned first.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
	urls  []string
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, rawURL)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// newTestLogger returns a silent entry plus a hook capturing its output.
func newTestLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger).WithField("module", "stream"), hook
}
