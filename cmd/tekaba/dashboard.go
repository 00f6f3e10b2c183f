package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/betbot/tekaba/internal/app"
	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/internal/tui"
	"github.com/betbot/tekaba/pkg/logger"
	"github.com/betbot/tekaba/pkg/shutdown"
)

const defaultDashboardLog = "logs/tekaba.log"

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the live dashboard in the terminal",
	Long:  "Show the live dashboard in the terminal. Logs go to LOG_FILE (default " + defaultDashboardLog + ").",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Log.File == "" {
			cfg.Log.File = defaultDashboardLog
		}
		// The screen belongs to the dashboard.
		if err := logger.Init(cfg.ToLogger(false)); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Close()

		var dash *tui.Dashboard
		a, err := app.New(cfg, app.Options{
			Prompter: func(ctx context.Context) (notify.Permission, error) { return dash.Prompt(ctx) },
			Log:      logger.Module("app"),
		})
		if err != nil {
			return err
		}
		dash = tui.New(a.DashboardSources(), tui.WithProgramOptions(tea.WithAltScreen()))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := a.Start(ctx); err != nil {
			return err
		}

		go func() {
			if sig := shutdown.WaitForSignal(ctx); sig != nil {
				logger.Infof("received %s, closing dashboard", sig)
				cancel()
			}
		}()

		runErr := dash.Run(ctx)
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := a.Shutdown(stopCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
		return runErr
	},
}
