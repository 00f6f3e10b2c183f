package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MessageType is the `type` discriminator carried by every frame.
type MessageType string

const (
	TypeSignal         MessageType = "signal"
	TypePositionUpdate MessageType = "position_update"
	TypePrecursor      MessageType = "precursor"
	TypeAuthSuccess    MessageType = "auth_success"
	TypeError          MessageType = "error"
	TypePong           MessageType = "pong"

	typeAuth MessageType = "auth"
	typePing MessageType = "ping"
)

// IsEvent reports whether frames of this type are forwarded to listeners.
func (t MessageType) IsEvent() bool {
	switch t {
	case TypeSignal, TypePositionUpdate, TypePrecursor:
		return true
	}
	return false
}

// Message is one inbound frame. It is not retained after dispatch.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Text      string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Signal is the payload of a `signal` frame.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Pattern   string          `json:"pattern"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
}

// PositionUpdate is the payload of a `position_update` frame.
type PositionUpdate struct {
	Event      string              `json:"event"`
	Symbol     string              `json:"symbol"`
	Direction  string              `json:"direction"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	ExitPrice  decimal.NullDecimal `json:"exit_price"`
	TotalPnL   decimal.NullDecimal `json:"total_pnl"`
	Timestamp  string              `json:"timestamp"`
}

// Position update event names emitted by the trading engine.
const (
	EventOpened            = "opened"
	EventSLHit             = "sl_hit"
	EventTP1Hit            = "tp1_hit"
	EventTP2Hit            = "tp2_hit"
	EventTPAbsoluteHit     = "tp_absolute_hit"
	EventTrailingActivated = "trailing_activated"
	EventTrailingHit       = "trailing_hit"
	EventClosed            = "closed"
)

// envelope is the wire shape of a frame. Only type is strict; the optional
// text fields may arrive as any JSON value.
type envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Message   json.RawMessage `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParseMessage decodes a raw frame. Frames without a type are rejected.
func ParseMessage(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return &Message{
		Type:      env.Type,
		Data:      env.Data,
		Text:      looseString(env.Message),
		Timestamp: looseString(env.Timestamp),
	}, nil
}

// looseString returns a JSON string's value, or the raw text of any other
// non-null value (numbers stay as written).
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Signal decodes the payload of a signal frame.
func (m *Message) Signal() (*Signal, error) {
	if m.Type != TypeSignal {
		return nil, fmt.Errorf("message type %s is not %s", m.Type, TypeSignal)
	}
	var s Signal
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}
	return &s, nil
}

// PositionUpdate decodes the payload of a position_update frame.
func (m *Message) PositionUpdate() (*PositionUpdate, error) {
	if m.Type != TypePositionUpdate {
		return nil, fmt.Errorf("message type %s is not %s", m.Type, TypePositionUpdate)
	}
	var p PositionUpdate
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse position update: %w", err)
	}
	return &p, nil
}

// Precursors returns the opaque precursor records of a precursor frame.
// A null or missing payload yields an empty list.
func (m *Message) Precursors() ([]json.RawMessage, error) {
	if m.Type != TypePrecursor {
		return nil, fmt.Errorf("message type %s is not %s", m.Type, TypePrecursor)
	}
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return []json.RawMessage{}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(m.Data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse precursors: %w", err)
	}
	return records, nil
}

type authFrame struct {
	Type   MessageType `json:"type"`
	APIKey string      `json:"api_key"`
}

type pingFrame struct {
	Type MessageType `json:"type"`
}
