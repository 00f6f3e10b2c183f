package view

import (
	"encoding/json"
	"time"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/shopspring/decimal"
)

// Position is an active (or recently closed) position as seen on the stream.
type Position struct {
	Symbol     string              `json:"symbol"`
	Direction  string              `json:"direction"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	ExitPrice  decimal.NullDecimal `json:"exit_price"`
	TotalPnL   decimal.NullDecimal `json:"total_pnl"`
	LastEvent  string              `json:"last_event"`
	Events     []string            `json:"events"`
	OpenedAt   string              `json:"opened_at,omitempty"`
	UpdatedAt  string              `json:"updated_at,omitempty"`
	ClosedAt   string              `json:"closed_at,omitempty"`
	ReceivedAt time.Time           `json:"received_at"`

	seq uint64
}

// Key identifies a position: one per symbol and direction.
func (p Position) Key() string {
	return positionKey(p.Symbol, p.Direction)
}

func positionKey(symbol, direction string) string {
	return symbol + "|" + direction
}

// Reached reports whether the given event is in the position's (bounded)
// event history.
func (p Position) Reached(event string) bool {
	for _, e := range p.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (p Position) clone() Position {
	out := p
	out.Events = append([]string(nil), p.Events...)
	return out
}

// Conditions is the detector state attached to a precursor.
type Conditions struct {
	FROK              bool                `json:"fr_ok"`
	FRCurrent         decimal.NullDecimal `json:"fr_current"`
	FRRequired        decimal.NullDecimal `json:"fr_required"`
	FRRemaining       decimal.NullDecimal `json:"fr_remaining"`
	DivergenceOK      bool                `json:"divergence_ok"`
	DivergenceCurrent decimal.NullDecimal `json:"divergence_current"`
	OIOK              bool                `json:"oi_ok"`
	OIChangePct       decimal.NullDecimal `json:"oi_change_pct"`
}

// Precursor is one symbol approaching signal conditions. Records are kept
// verbatim in Raw; the other fields are filled when they decode.
type Precursor struct {
	Symbol     string          `json:"symbol"`
	Direction  string          `json:"direction"`
	DetectedAt string          `json:"detected_at"`
	Missing    []string        `json:"missing"`
	Conditions *Conditions     `json:"conditions,omitempty"`
	Raw        json.RawMessage `json:"raw"`
}

func (p Precursor) clone() Precursor {
	out := p
	out.Missing = append([]string(nil), p.Missing...)
	out.Raw = append(json.RawMessage(nil), p.Raw...)
	if p.Conditions != nil {
		c := *p.Conditions
		out.Conditions = &c
	}
	return out
}

// SignalEntry is a received signal.
type SignalEntry struct {
	stream.Signal
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is a deep copy of the view.
type Snapshot struct {
	Positions    []Position        `json:"positions"`
	Closed       []Position        `json:"closed"`
	Precursors   []Precursor       `json:"precursors"`
	Signals      []SignalEntry     `json:"signals"`
	Counts       map[string]uint64 `json:"counts"`
	DecodeErrors uint64            `json:"decode_errors"`
	PrecursorsAt time.Time         `json:"precursors_at,omitzero"`
	LastEventAt  time.Time         `json:"last_event_at,omitzero"`
}
