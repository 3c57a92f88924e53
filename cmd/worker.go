package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
}

var retryWorkerCmd = &cobra.Command{
	Use:   "retries",
	Short: "Re-drive webhooks deferred because their donation was not yet visible",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetryWorker(cmd.Context())
	},
}

var (
	retryOnce    bool
	retryWorkers int
)

func runRetryWorker(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if retryWorkers > 0 {
		cfg.Reconcile.RetryWorkers = retryWorkers
	}

	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := app.RetryWorker()
	if retryOnce {
		defer worker.Shutdown()
		n, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		app.Logger.Info("retry batch finished", "processed", n)
		return nil
	}

	app.Logger.Info("retry worker is running. Press Ctrl+C to stop.",
		"workers", cfg.Reconcile.RetryWorkers,
		"interval", cfg.Reconcile.DeferredInterval,
		"max_attempts", cfg.Reconcile.DeferredMaxAttempts)
	return worker.Run(ctx)
}

func init() {
	retryWorkerCmd.Flags().BoolVar(&retryOnce, "once", false, "process one batch of due retries and exit")
	retryWorkerCmd.Flags().IntVar(&retryWorkers, "workers", 0, "number of workers (overrides config)")

	workerCmd.AddCommand(retryWorkerCmd)
	rootCmd.AddCommand(workerCmd)
}
