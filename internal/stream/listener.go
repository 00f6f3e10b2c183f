package stream

import "encoding/json"

// Listener receives every event frame (signal, position_update, precursor).
// A returned error is logged and does not affect other listeners.
type Listener interface {
	Handle(msg Message) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(msg Message) error

func (f ListenerFunc) Handle(msg Message) error {
	return f(msg)
}

// OnSignal returns a listener that decodes signal frames and ignores the rest.
func OnSignal(fn func(*Signal) error) Listener {
	return ListenerFunc(func(msg Message) error {
		if msg.Type != TypeSignal {
			return nil
		}
		s, err := msg.Signal()
		if err != nil {
			return err
		}
		return fn(s)
	})
}

// OnPositionUpdate returns a listener for position_update frames.
func OnPositionUpdate(fn func(*PositionUpdate) error) Listener {
	return ListenerFunc(func(msg Message) error {
		if msg.Type != TypePositionUpdate {
			return nil
		}
		p, err := msg.PositionUpdate()
		if err != nil {
			return err
		}
		return fn(p)
	})
}

// OnPrecursor returns a listener for precursor frames.
func OnPrecursor(fn func([]json.RawMessage) error) Listener {
	return ListenerFunc(func(msg Message) error {
		if msg.Type != TypePrecursor {
			return nil
		}
		records, err := msg.Precursors()
		if err != nil {
			return err
		}
		return fn(records)
	})
}

// OnAnyEvent wraps a callback that cannot fail.
func OnAnyEvent(fn func(Message)) Listener {
	return ListenerFunc(func(msg Message) error {
		fn(msg)
		return nil
	})
}
