package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/internal/view"
)

var modelLog = logrus.WithField("module", "tui")

const defaultRefresh = time.Second

var errDashboardClosed = errors.New("dashboard closed")

// ConnectionSource reports the stream connection.
type ConnectionSource interface {
	Status() stream.Status
}

// ViewSource provides the dashboard state and signals its changes.
type ViewSource interface {
	Snapshot() view.Snapshot
	Changed() (<-chan struct{}, func())
}

// AlertSource reports alert delivery. Optional.
type AlertSource interface {
	Stats() notify.Stats
}

type Sources struct {
	Connection ConnectionSource
	View       ViewSource
	Alerts     AlertSource
}

// Dashboard renders the live view in the terminal.
type Dashboard struct {
	src      Sources
	refresh  time.Duration
	programs []tea.ProgramOption
	now      func() time.Time

	mu      sync.Mutex
	program *tea.Program
	ready   chan struct{}
	done    chan struct{}
}

type Option func(*Dashboard)

// WithRefresh sets how often the connection status is re-read when the view
// has not changed.
func WithRefresh(d time.Duration) Option {
	return func(db *Dashboard) {
		if d > 0 {
			db.refresh = d
		}
	}
}

// WithProgramOptions passes options to the bubbletea program.
func WithProgramOptions(opts ...tea.ProgramOption) Option {
	return func(db *Dashboard) { db.programs = append(db.programs, opts...) }
}

func New(src Sources, opts ...Option) *Dashboard {
	d := &Dashboard{
		src:     src,
		refresh: defaultRefresh,
		now:     time.Now,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Collect gathers one frame.
func (d *Dashboard) Collect() Snapshot {
	snap := Snapshot{
		View:       d.src.View.Snapshot(),
		Connection: d.src.Connection.Status(),
		TakenAt:    d.now(),
	}
	if d.src.Alerts != nil {
		st := d.src.Alerts.Stats()
		snap.Alerts = &st
	}
	return snap
}

// Run shows the dashboard until the operator quits or ctx ends. It can only
// be called once.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan Snapshot, 1)
	p := tea.NewProgram(newModel(updates), append([]tea.ProgramOption{tea.WithContext(ctx)}, d.programs...)...)

	d.mu.Lock()
	d.program = p
	close(d.ready)
	d.mu.Unlock()

	go d.feed(ctx, updates)

	_, err := p.Run()
	close(d.done)
	if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		// Cancelled from outside; not a failure.
		return nil
	}
	return err
}

func (d *Dashboard) feed(ctx context.Context, updates chan Snapshot) {
	changed, detach := d.src.View.Changed()
	defer detach()

	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()

	push := func() {
		snap := d.Collect()
		select {
		case updates <- snap:
			return
		default:
		}
		// Replace the frame nobody has read yet.
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- snap:
		default:
		}
	}

	push()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			push()
		case <-ticker.C:
			push()
		}
	}
}

// Prompt asks the operator for alert permission inside the dashboard. It
// satisfies notify.Prompter and waits for Run to start.
func (d *Dashboard) Prompt(ctx context.Context) (notify.Permission, error) {
	select {
	case <-d.ready:
	case <-d.done:
		return notify.PermissionUndetermined, errDashboardClosed
	case <-ctx.Done():
		return notify.PermissionUndetermined, ctx.Err()
	}

	d.mu.Lock()
	p := d.program
	d.mu.Unlock()

	reply := make(chan notify.Permission, 1)
	p.Send(promptMsg{reply: reply})

	select {
	case perm := <-reply:
		return perm, nil
	case <-d.done:
		return notify.PermissionUndetermined, errDashboardClosed
	case <-ctx.Done():
		return notify.PermissionUndetermined, ctx.Err()
	}
}
