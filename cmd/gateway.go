package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	gatewaypg "github.com/frahmantamala/donation-gateway/internal/gateway/postgres"
	"github.com/frahmantamala/donation-gateway/internal/gateway/square"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Gateway administration",
}

var registerWebhookCmd = &cobra.Command{
	Use:       "register-webhook [gateway]",
	Short:     "Register the notification URL with the gateway and store the webhook id",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{square.Name},
	RunE:      runRegisterWebhook,
}

var webhookName string

func runRegisterWebhook(cmd *cobra.Command, args []string) error {
	if args[0] != square.Name {
		return fmt.Errorf("webhook registration is only supported for %s", square.Name)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	adapter, err := app.Registry.Get(square.Name)
	if err != nil {
		return err
	}
	sq, ok := adapter.(*square.Adapter)
	if !ok {
		return fmt.Errorf("unexpected adapter type %T", adapter)
	}

	ctx := cmd.Context()
	settings := gatewaypg.NewSettingRepository(app.DB)
	if existing, err := settings.Get(ctx, square.Name); err != nil {
		return err
	} else if existing != nil && existing.WebhookID != "" {
		app.Logger.Warn("replacing registered webhook", "gateway", square.Name, "webhook_id", existing.WebhookID)
	}

	id, err := sq.RegisterWebhook(ctx, webhookName)
	if err != nil {
		return fmt.Errorf("register square webhook: %w", err)
	}
	if err := settings.SaveWebhookID(ctx, square.Name, id); err != nil {
		return fmt.Errorf("store webhook id: %w", err)
	}

	app.Logger.Info("webhook registered", "gateway", square.Name, "webhook_id", id, "notification_url", cfg.Gateways.Square.NotificationURL)
	return nil
}

func init() {
	registerWebhookCmd.Flags().StringVar(&webhookName, "name", "donation-gateway", "name of the webhook subscription")

	gatewayCmd.AddCommand(registerWebhookCmd)
	rootCmd.AddCommand(gatewayCmd)
}
