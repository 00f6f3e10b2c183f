package view

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/pkg/sigchan"
)

const (
	defaultMaxSignals = 100
	defaultMaxClosed  = 50

	// maxPositionEvents bounds the event history kept per position.
	maxPositionEvents = 32
)

// terminalEvents end a position.
var terminalEvents = map[string]bool{
	stream.EventSLHit:         true,
	stream.EventTPAbsoluteHit: true,
	stream.EventTrailingHit:   true,
	stream.EventClosed:        true,
}

// IsTerminal reports whether a position event closes the position.
func IsTerminal(event string) bool {
	return terminalEvents[event]
}

// Store keeps the dashboard's live state in sync with the event stream.
// It is a stream.Listener; every accepted event emits on Changed.
type Store struct {
	maxSignals int
	maxClosed  int
	now        func() time.Time
	changed    *sigchan.Hub

	mu           sync.RWMutex
	seq          uint64
	positions    map[string]*Position
	closed       []Position
	precursors   []Precursor
	signals      []SignalEntry
	counts       map[stream.MessageType]uint64
	decodeErrors uint64
	precursorsAt time.Time
	lastEventAt  time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithMaxSignals bounds the recent-signal list.
func WithMaxSignals(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSignals = n
		}
	}
}

// WithMaxClosed bounds the recently-closed list.
func WithMaxClosed(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxClosed = n
		}
	}
}

// WithClock sets the receive-time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		maxSignals: defaultMaxSignals,
		maxClosed:  defaultMaxClosed,
		now:        time.Now,
		changed:    sigchan.NewHub(),
		positions:  make(map[string]*Position),
		counts:     make(map[stream.MessageType]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ stream.Listener = (*Store)(nil)

// Handle applies one event frame.
func (s *Store) Handle(msg stream.Message) error {
	var err error
	switch msg.Type {
	case stream.TypeSignal:
		var sig *stream.Signal
		if sig, err = msg.Signal(); err == nil {
			s.applySignal(sig)
		}
	case stream.TypePositionUpdate:
		var upd *stream.PositionUpdate
		if upd, err = msg.PositionUpdate(); err == nil {
			err = s.applyPosition(upd)
		}
	case stream.TypePrecursor:
		var records []json.RawMessage
		if records, err = msg.Precursors(); err == nil {
			s.applyPrecursors(records)
		}
	default:
		return nil
	}

	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		return err
	}
	s.changed.Emit()
	return nil
}

func (s *Store) applySignal(sig *stream.Signal) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(stream.TypeSignal, now)

	entry := SignalEntry{Signal: *sig, ReceivedAt: now}
	s.signals = append([]SignalEntry{entry}, s.signals...)
	if len(s.signals) > s.maxSignals {
		s.signals = s.signals[:s.maxSignals]
	}
}

func (s *Store) applyPosition(upd *stream.PositionUpdate) error {
	if upd.Symbol == "" || upd.Event == "" {
		return fmt.Errorf("position update missing symbol or event")
	}
	now := s.now()
	key := positionKey(upd.Symbol, upd.Direction)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(stream.TypePositionUpdate, now)

	pos, ok := s.positions[key]
	if !ok {
		// First sighting, possibly after missing the "opened" event.
		s.seq++
		pos = &Position{
			Symbol:    upd.Symbol,
			Direction: upd.Direction,
			OpenedAt:  upd.Timestamp,
			seq:       s.seq,
		}
	}

	if !upd.EntryPrice.IsZero() {
		pos.EntryPrice = upd.EntryPrice
	}
	if upd.ExitPrice.Valid {
		pos.ExitPrice = upd.ExitPrice
	}
	if upd.TotalPnL.Valid {
		pos.TotalPnL = upd.TotalPnL
	}
	pos.LastEvent = upd.Event
	pos.Events = append(pos.Events, upd.Event)
	if n := len(pos.Events); n > maxPositionEvents {
		pos.Events = append(pos.Events[:0:0], pos.Events[n-maxPositionEvents:]...)
	}
	pos.UpdatedAt = upd.Timestamp
	pos.ReceivedAt = now

	if !IsTerminal(upd.Event) {
		s.positions[key] = pos
		return nil
	}

	delete(s.positions, key)
	pos.ClosedAt = upd.Timestamp
	s.closed = append([]Position{pos.clone()}, s.closed...)
	if len(s.closed) > s.maxClosed {
		s.closed = s.closed[:s.maxClosed]
	}
	return nil
}

func (s *Store) applyPrecursors(records []json.RawMessage) {
	now := s.now()
	list := make([]Precursor, 0, len(records))
	for _, raw := range records {
		list = append(list, summarizePrecursor(raw))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(stream.TypePrecursor, now)
	s.precursors = list
	s.precursorsAt = now
}

// summarizePrecursor decodes what it can; a record that is not an object
// keeps only its raw form.
func summarizePrecursor(raw json.RawMessage) Precursor {
	p := Precursor{Raw: append(json.RawMessage(nil), raw...)}

	var fields struct {
		Symbol     string          `json:"symbol"`
		Direction  string          `json:"direction"`
		DetectedAt string          `json:"detected_at"`
		Missing    []string        `json:"missing"`
		Conditions json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p
	}
	p.Symbol = fields.Symbol
	p.Direction = fields.Direction
	p.DetectedAt = fields.DetectedAt
	p.Missing = fields.Missing

	if len(fields.Conditions) > 0 && string(fields.Conditions) != "null" {
		var c Conditions
		if err := json.Unmarshal(fields.Conditions, &c); err == nil {
			p.Conditions = &c
		}
	}
	return p
}

func (s *Store) count(t stream.MessageType, now time.Time) {
	s.counts[t]++
	s.lastEventAt = now
}

// Snapshot returns a deep copy of the current view. Active positions are in
// first-seen order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Positions:    s.activeLocked(),
		Closed:       make([]Position, 0, len(s.closed)),
		Precursors:   make([]Precursor, 0, len(s.precursors)),
		Signals:      append([]SignalEntry(nil), s.signals...),
		Counts:       make(map[string]uint64, len(s.counts)),
		DecodeErrors: s.decodeErrors,
		PrecursorsAt: s.precursorsAt,
		LastEventAt:  s.lastEventAt,
	}
	if snap.Signals == nil {
		snap.Signals = []SignalEntry{}
	}
	for _, p := range s.closed {
		snap.Closed = append(snap.Closed, p.clone())
	}
	for _, p := range s.precursors {
		snap.Precursors = append(snap.Precursors, p.clone())
	}
	for t, n := range s.counts {
		snap.Counts[string(t)] = n
	}
	return snap
}

func (s *Store) activeLocked() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Positions returns the active positions.
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

// Position looks up an active position.
func (s *Store) Position(symbol, direction string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey(symbol, direction)]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Changed subscribes to change signals. Call the returned func to detach.
func (s *Store) Changed() (<-chan struct{}, func()) {
	ch, detach := s.changed.Subscribe()
	return ch.C(), detach
}
