package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler releases one resource. It should return once done or when ctx ends.
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager runs registered handlers concurrently on shutdown.
type Manager struct {
	log *logrus.Entry

	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

func NewManager(log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("module", "shutdown")
	}
	return &Manager{log: log}
}

// OnShutdown registers a handler under a name used in logs.
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown runs every handler once and blocks until all return or ctx ends.
// Handler errors are logged and joined into the result. Later calls are
// no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		m.log.Debug("no shutdown handlers registered")
		return nil
	}
	m.log.Infof("shutting down %d component(s)", len(callbacks))

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed []error
	)
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(h namedHandler) {
			defer wg.Done()
			start := time.Now()
			err := runHandler(ctx, h)
			if err != nil {
				m.log.Warnf("%s: shutdown failed: %v", h.name, err)
				errMu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", h.name, err))
				errMu.Unlock()
				return
			}
			m.log.Debugf("%s stopped in %s", h.name, time.Since(start).Round(time.Millisecond))
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("shutdown complete")
	case <-ctx.Done():
		m.log.Warnf("shutdown timed out: %v", ctx.Err())
		return ctx.Err()
	}

	errMu.Lock()
	defer errMu.Unlock()
	return errors.Join(failed...)
}

func runHandler(ctx context.Context, h namedHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(ctx)
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or ctx ends, and returns
// the signal received (nil when ctx ended first).
func WaitForSignal(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		return sig
	case <-ctx.Done():
		return nil
	}
}
