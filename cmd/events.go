package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Gateway event maintenance",
}

var pruneEventsCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored webhooks and idempotency records past the retention window",
	RunE:  runPruneEvents,
}

var pruneOlderThan time.Duration

func runPruneEvents(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	retention := pruneOlderThan
	if retention <= 0 {
		retention = cfg.Reconcile.IdempotencyRetention
	}
	cutoff := time.Now().UTC().Add(-retention)
	ctx := cmd.Context()

	retries, err := app.Retries.DeleteFinishedOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune event retries: %w", err)
	}
	events, err := app.Events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune gateway events: %w", err)
	}
	processed, err := app.Processed.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune processed events: %w", err)
	}

	app.Logger.Info("events pruned",
		"cutoff", cutoff,
		"gateway_events", events,
		"processed_events", processed,
		"event_retries", retries)
	return nil
}

func init() {
	pruneEventsCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "retention window (defaults to reconcile.idempotency_retention)")

	eventsCmd.AddCommand(pruneEventsCmd)
	rootCmd.AddCommand(eventsCmd)
}
