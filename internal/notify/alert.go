package notify

import (
	"fmt"

	"github.com/betbot/tekaba/internal/stream"
)

// Alert is a human-readable rendering of one event.
type Alert struct {
	Kind      stream.MessageType `json:"kind"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Symbol    string             `json:"symbol"`
	Event     string             `json:"event,omitempty"`
	Timestamp string             `json:"timestamp,omitempty"`
}

var eventLabels = map[string]string{
	stream.EventSLHit:         "SL Hit",
	stream.EventTP1Hit:        "TP1 Hit",
	stream.EventTP2Hit:        "TP2 Hit",
	stream.EventTPAbsoluteHit: "Absolute TP",
	stream.EventTrailingHit:   "Trailing Stop",
}

// EventLabel returns the display label of a position event, or the raw name.
func EventLabel(event string) string {
	if label, ok := eventLabels[event]; ok {
		return label
	}
	return event
}

// AlertFor renders signal and position_update frames. The bool is false for
// every other frame type.
func AlertFor(msg stream.Message) (Alert, bool, error) {
	switch msg.Type {
	case stream.TypeSignal:
		s, err := msg.Signal()
		if err != nil {
			return Alert{}, false, err
		}
		return SignalAlert(s), true, nil
	case stream.TypePositionUpdate:
		p, err := msg.PositionUpdate()
		if err != nil {
			return Alert{}, false, err
		}
		return PositionAlert(p), true, nil
	default:
		return Alert{}, false, nil
	}
}

// SignalAlert: "Signal: BTCUSDT" / "LONG A @ 65000".
func SignalAlert(s *stream.Signal) Alert {
	return Alert{
		Kind:      stream.TypeSignal,
		Title:     fmt.Sprintf("Signal: %s", s.Symbol),
		Body:      fmt.Sprintf("%s %s @ %s", s.Direction, s.Pattern, s.Price.String()),
		Symbol:    s.Symbol,
		Timestamp: s.Timestamp,
	}
}

// PositionAlert: "TP1 Hit: ETHUSDT" / "PnL: 1.25%", falling back to the event
// name when no PnL is reported.
func PositionAlert(p *stream.PositionUpdate) Alert {
	body := p.Event
	if p.TotalPnL.Valid {
		body = fmt.Sprintf("PnL: %s%%", p.TotalPnL.Decimal.StringFixed(2))
	}
	return Alert{
		Kind:      stream.TypePositionUpdate,
		Title:     fmt.Sprintf("%s: %s", EventLabel(p.Event), p.Symbol),
		Body:      body,
		Symbol:    p.Symbol,
		Event:     p.Event,
		Timestamp: p.Timestamp,
	}
}
