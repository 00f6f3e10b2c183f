package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tekaba/internal/metrics"
	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/internal/statusapi"
	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/internal/tui"
	"github.com/betbot/tekaba/internal/view"
	"github.com/betbot/tekaba/pkg/config"
	"github.com/betbot/tekaba/pkg/shutdown"
	"github.com/betbot/tekaba/pkg/syncgroup"
)

const statusLogInterval = time.Minute

// Options are the pieces the caller may supply.
type Options struct {
	// Prompter answers an undetermined alert permission. Nil leaves it
	// undetermined, which suppresses alerts.
	Prompter notify.Prompter
	Dialer   stream.Dialer
	Log      *logrus.Entry
}

// App is the event pipeline: stream client, local view, alert bridge and
// the optional status API.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	Client *stream.Client
	Store  *view.Store
	Bridge *notify.Bridge
	API    *statusapi.Server

	shutdown *shutdown.Manager
	bg       *syncgroup.SyncGroup
}

func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = logrus.WithField("module", "app")
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		Store:    view.NewStore(),
		shutdown: shutdown.NewManager(log.WithField("module", "shutdown")),
		bg:       syncgroup.NewSyncGroup(),
	}

	clientOpts := []stream.Option{stream.WithLogger(log.WithField("module", "stream"))}
	if opts.Dialer != nil {
		clientOpts = append(clientOpts, stream.WithDialer(opts.Dialer))
	}

	if cfg.Notify.Enabled {
		bridge, err := newBridge(cfg.Notify, opts.Prompter, log.WithField("module", "notify"))
		if err != nil {
			return nil, err
		}
		a.Bridge = bridge
		clientOpts = append(clientOpts, stream.WithNotifier(bridge))
	}

	client, err := stream.New(cfg.ToStream(), clientOpts...)
	if err != nil {
		return nil, err
	}
	a.Client = client
	client.Subscribe(a.Store)

	if cfg.Listen != "" {
		src := statusapi.Sources{Connection: client, View: a.Store}
		if a.Bridge != nil {
			src.Alerts = a.Bridge
		}
		api, err := statusapi.New(statusapi.Config{Addr: cfg.Listen, Debug: cfg.Debug}, src, log.WithField("module", "statusapi"))
		if err != nil {
			return nil, err
		}
		a.API = api
	}
	return a, nil
}

func newBridge(cfg config.NotifyConfig, prompt notify.Prompter, log *logrus.Entry) (*notify.Bridge, error) {
	perm, err := notify.ParsePermission(cfg.Permission)
	if err != nil {
		return nil, err
	}

	sinks := notify.Multi{notify.NewLogSink(log)}
	if cfg.WebhookURL != "" {
		hook, err := notify.NewWebhookSink(notify.WebhookConfig{
			URL:           cfg.WebhookURL,
			Timeout:       cfg.WebhookTimeout,
			RetryCount:    cfg.WebhookRetries,
			RatePerMinute: cfg.WebhookRate,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, hook)
	}

	return notify.NewBridge(
		notify.NewGate(sinks, perm, prompt),
		notify.WithQueueSize(cfg.QueueSize),
		notify.WithBridgeLogger(log),
	), nil
}

// Start brings up the status API, the alert bridge and the connection.
// A failed first dial is retried in the background.
func (a *App) Start(ctx context.Context) error {
	if a.API != nil {
		if err := a.API.Start(); err != nil {
			return fmt.Errorf("start status API: %w", err)
		}
		a.shutdown.OnShutdown("statusapi", a.API.Shutdown)
	}
	if a.Bridge != nil {
		a.Bridge.Start(ctx)
		a.shutdown.OnShutdown("alerts", a.Bridge.Close)
	}

	if err := a.Client.Start(ctx); err != nil {
		return err
	}
	a.shutdown.OnShutdown("stream", func(context.Context) error {
		a.Client.Stop()
		return nil
	})

	a.publishMetrics()

	statusCtx, stopStatus := context.WithCancel(ctx)
	a.bg.Go(func() { a.logStatus(statusCtx) })
	a.shutdown.OnShutdown("background", func(context.Context) error {
		stopStatus()
		a.bg.Wait()
		return nil
	})
	a.log.Infof("streaming from %s", a.cfg.Stream.URL)
	return nil
}

func (a *App) logStatus(ctx context.Context) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.log.Debug(a.Client.DebugSnapshot())
		}
	}
}

// publishMetrics exposes live counters through expvar.
func (a *App) publishMetrics() {
	metrics.Publish("tekaba_stream", func() any { return a.Client.Status() })
	metrics.Publish("tekaba_view", func() any {
		snap := a.Store.Snapshot()
		return map[string]any{
			"counts":        snap.Counts,
			"decode_errors": snap.DecodeErrors,
			"positions":     len(snap.Positions),
			"precursors":    len(snap.Precursors),
		}
	})
	if a.Bridge != nil {
		metrics.Publish("tekaba_alerts", func() any { return a.Bridge.Stats() })
	}
}

// Shutdown stops everything Start brought up.
func (a *App) Shutdown(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

// DashboardSources exposes the pipeline to the terminal dashboard.
func (a *App) DashboardSources() tui.Sources {
	src := tui.Sources{Connection: a.Client, View: a.Store}
	if a.Bridge != nil {
		src.Alerts = a.Bridge
	}
	return src
}
