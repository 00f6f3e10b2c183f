package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/tekaba/internal/app"
	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/pkg/logger"
	"github.com/betbot/tekaba/pkg/shutdown"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events headless, logging alerts and serving the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.ToLogger(true)); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Close()

		log := logger.Module("watch")
		log.Infof("config: %+v", cfg.Redacted())

		a, err := app.New(cfg, app.Options{
			Prompter: consolePrompter(os.Stdin, cmd.OutOrStdout()),
			Log:      logger.Module("app"),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := a.Start(ctx); err != nil {
			return err
		}

		if sig := shutdown.WaitForSignal(ctx); sig != nil {
			log.Infof("received %s, shutting down", sig)
		}
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		return a.Shutdown(stopCtx)
	},
}

// consolePrompter asks on out and reads y/n from in.
func consolePrompter(in io.Reader, out io.Writer) notify.Prompter {
	return func(ctx context.Context) (notify.Permission, error) {
		fmt.Fprint(out, "Show alerts for signals and position events? [y/n] ")

		answers := make(chan string, 1)
		go func() {
			line, _ := bufio.NewReader(in).ReadString('\n')
			answers <- line
		}()

		select {
		case line := <-answers:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return notify.PermissionGranted, nil
			case "n", "no":
				return notify.PermissionDenied, nil
			}
			return notify.PermissionUndetermined, nil
		case <-ctx.Done():
			return notify.PermissionUndetermined, ctx.Err()
		}
	}
}
