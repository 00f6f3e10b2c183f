package stream

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// parseErrorLogInterval limits how often dropped frames are logged.
const parseErrorLogInterval = 5 * time.Second

// Notifier receives signal and position_update frames after listener fan-out.
// Notify must not block.
type Notifier interface {
	Notify(msg Message)
}

// Session is the transport a frame arrived on. The dispatcher reports
// protocol-level frames back to it.
type Session interface {
	Authenticated()
	Pong()
}

// DispatchStats counts what the dispatcher has seen.
type DispatchStats struct {
	Frames          uint64    `json:"frames"`
	Events          uint64    `json:"events"`
	ParseErrors     uint64    `json:"parse_errors"`
	UnknownFrames   uint64    `json:"unknown_frames"`
	ServerErrors    uint64    `json:"server_errors"`
	ListenerErrors  uint64    `json:"listener_errors"`
	LastEventAt     time.Time `json:"last_event_at,omitzero"`
	LastPongAt      time.Time `json:"last_pong_at,omitzero"`
	LastParseErrAt  time.Time `json:"last_parse_error_at,omitzero"`
	LastServerError string    `json:"last_server_error,omitempty"`
}

// Dispatcher parses frames and routes them by type.
type Dispatcher struct {
	listeners *Registry[Listener]
	notifier  Notifier
	clock     Clock
	log       *logrus.Entry

	statsMu sync.Mutex
	stats   DispatchStats
}

// NewDispatcher routes events to the given listeners. notifier may be nil.
func NewDispatcher(listeners *Registry[Listener], notifier Notifier, clock Clock, log *logrus.Entry) *Dispatcher {
	if clock == nil {
		clock = realClock{}
	}
	if log == nil {
		log = logrus.WithField("module", "stream")
	}
	return &Dispatcher{
		listeners: listeners,
		notifier:  notifier,
		clock:     clock,
		log:       log,
	}
}

// Dispatch handles one raw frame. Malformed frames are dropped and reported
// through the returned error; nothing escapes as a panic.
func (d *Dispatcher) Dispatch(data []byte, s Session) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	d.statsMu.Lock()
	d.stats.Frames++
	d.statsMu.Unlock()

	msg, err := ParseMessage(trimmed)
	if err != nil {
		d.recordParseError(err, trimmed)
		return err
	}

	switch msg.Type {
	case TypeAuthSuccess:
		d.log.Info("authenticated")
		if s != nil {
			s.Authenticated()
		}
	case TypeError:
		d.statsMu.Lock()
		d.stats.ServerErrors++
		d.stats.LastServerError = msg.Text
		d.statsMu.Unlock()
		d.log.Errorf("server error: %s", msg.Text)
	case TypePong:
		d.statsMu.Lock()
		d.stats.LastPongAt = d.clock.Now()
		d.statsMu.Unlock()
		if s != nil {
			s.Pong()
		}
	case TypeSignal, TypePositionUpdate, TypePrecursor:
		d.statsMu.Lock()
		d.stats.Events++
		d.stats.LastEventAt = d.clock.Now()
		d.statsMu.Unlock()

		for _, l := range d.listeners.Snapshot() {
			d.deliver(l, *msg)
		}
		if d.notifier != nil && msg.Type != TypePrecursor {
			d.notify(*msg)
		}
	default:
		d.statsMu.Lock()
		d.stats.UnknownFrames++
		d.statsMu.Unlock()
		d.log.Debugf("ignoring frame of unknown type %q", msg.Type)
	}
	return nil
}

func (d *Dispatcher) deliver(l Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.listenerFailed(msg.Type, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := l.Handle(msg); err != nil {
		d.listenerFailed(msg.Type, err)
	}
}

func (d *Dispatcher) notify(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("notifier panic on %s: %v", msg.Type, r)
		}
	}()
	d.notifier.Notify(msg)
}

func (d *Dispatcher) listenerFailed(t MessageType, err error) {
	d.statsMu.Lock()
	d.stats.ListenerErrors++
	d.statsMu.Unlock()
	d.log.WithField("type", t).Errorf("listener failed: %v", err)
}

func (d *Dispatcher) recordParseError(err error, frame []byte) {
	now := d.clock.Now()

	d.statsMu.Lock()
	d.stats.ParseErrors++
	last := d.stats.LastParseErrAt
	shouldLog := last.IsZero() || now.Sub(last) > parseErrorLogInterval
	if shouldLog {
		d.stats.LastParseErrAt = now
	}
	count := d.stats.ParseErrors
	d.statsMu.Unlock()

	if shouldLog {
		d.log.Warnf("dropping malformed frame: %v (len=%d preview=%q dropped=%d)",
			err, len(frame), truncateForLog(string(frame), 240), count)
	}
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatchStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func truncateForLog(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
