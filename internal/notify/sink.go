package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Permission is whether alerts may be shown.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// ParsePermission accepts granted, denied and prompt (or empty) for
// undetermined.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted", "grant", "allow":
		return PermissionGranted, nil
	case "denied", "deny":
		return PermissionDenied, nil
	case "", "prompt", "default", "undetermined":
		return PermissionUndetermined, nil
	default:
		return PermissionUndetermined, fmt.Errorf("unknown notification permission %q", s)
	}
}

// Sink shows alerts somewhere.
type Sink interface {
	Name() string
	Permission() Permission
	// RequestPermission asks once. It may block until answered or ctx ends.
	RequestPermission(ctx context.Context) (Permission, error)
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the log. It never needs permission.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	if log == nil {
		log = logrus.WithField("module", "notify")
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string           { return "log" }
func (s *LogSink) Permission() Permission { return PermissionGranted }

func (s *LogSink) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (s *LogSink) Send(_ context.Context, a Alert) error {
	s.log.WithFields(logrus.Fields{
		"kind":   a.Kind,
		"symbol": a.Symbol,
	}).Infof("🔔 %s | %s", a.Title, a.Body)
	return nil
}

// Prompter asks the operator whether alerts may be shown.
type Prompter func(ctx context.Context) (Permission, error)

// Gate puts a permission decision in front of a sink. The decision starts
// at the configured value; an undetermined gate asks its prompter.
type Gate struct {
	sink   Sink
	prompt Prompter

	mu   sync.Mutex
	perm Permission
}

// NewGate wraps sink. A nil prompter leaves an undetermined gate
// undetermined, so nothing is sent.
func NewGate(sink Sink, initial Permission, prompt Prompter) *Gate {
	return &Gate{sink: sink, prompt: prompt, perm: initial}
}

func (g *Gate) Name() string { return g.sink.Name() }

func (g *Gate) Permission() Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perm
}

func (g *Gate) RequestPermission(ctx context.Context) (Permission, error) {
	g.mu.Lock()
	current := g.perm
	g.mu.Unlock()
	if current != PermissionUndetermined || g.prompt == nil {
		return current, nil
	}

	answer, err := g.prompt(ctx)
	if err != nil {
		return PermissionUndetermined, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.perm == PermissionUndetermined {
		g.perm = answer
	}
	return g.perm, nil
}

func (g *Gate) Send(ctx context.Context, a Alert) error {
	return g.sink.Send(ctx, a)
}

// Multi sends every alert to all of its sinks.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

// Permission is granted when any member is granted.
func (m Multi) Permission() Permission {
	out := PermissionDenied
	for _, s := range m {
		switch s.Permission() {
		case PermissionGranted:
			return PermissionGranted
		case PermissionUndetermined:
			out = PermissionUndetermined
		}
	}
	return out
}

func (m Multi) RequestPermission(ctx context.Context) (Permission, error) {
	var errs []error
	for _, s := range m {
		if s.Permission() != PermissionUndetermined {
			continue
		}
		if _, err := s.RequestPermission(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return m.Permission(), errors.Join(errs...)
}

// Send delivers to each granted member and joins the failures.
func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s.Permission() != PermissionGranted {
			continue
		}
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
