package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/donation-gateway/api"
	"github.com/frahmantamala/donation-gateway/internal/auth"
	"github.com/frahmantamala/donation-gateway/internal/checkout"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/recurring"
	recurringpg "github.com/frahmantamala/donation-gateway/internal/recurring/postgres"
	"github.com/frahmantamala/donation-gateway/internal/transport"
	"github.com/frahmantamala/donation-gateway/internal/transport/rest"
	"github.com/frahmantamala/donation-gateway/internal/webhook"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for checkout, gateway webhooks and the operator API`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

var withRetryWorker bool

func init() {
	httpServerCmd.Flags().BoolVar(&withRetryWorker, "with-retry-worker", true, "run the deferred webhook retry worker in-process")
}

func startHTTPServer() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	lg := app.Logger

	if _, err := api.Load(context.Background()); err != nil {
		lg.Error("embedded OpenAPI document is invalid", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, setupHandlers(app), lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var worker *webhook.RetryWorker
	if withRetryWorker {
		worker = app.RetryWorker()
		go func() {
			if err := worker.Run(ctx); err != nil {
				lg.Error("retry worker stopped", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		lg.Info("starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("server shutdown error", "error", err)
		}
		if worker != nil {
			worker.Shutdown()
		}
		if err := app.Bus.Drain(shutdownCtx); err != nil {
			lg.Warn("event handlers still running at shutdown", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	lg.Info("server stopped")
}

func setupHandlers(app *App) rest.Handlers {
	cfg := app.Config
	base := transport.NewBaseHandler(app.Logger)

	donationService := donation.NewService(app.Donations, app.Registry, app.Processed, app.Logger)
	checkoutService := checkout.NewService(app.Registry, donationService, app.Donations, app.Engine, checkout.Config{
		Timeout:    cfg.Checkout.Timeout,
		RetryDelay: cfg.Checkout.RetryDelay,
		ReceiptURL: cfg.Checkout.ReceiptURL,
		ReturnURL:  cfg.Checkout.ReturnURL,
		CancelURL:  cfg.Checkout.CancelURL,
		BaseURL:    cfg.Server.BaseURL,
		Modes:      app.Modes(),
	}, app.Logger)
	subscriptionService := recurring.NewService(recurringpg.NewSubscriptionRepository(app.DB), app.Logger)

	ingestor := webhook.NewIngestor(app.Registry, app.Events, app.Logger)
	tokens := auth.NewJWTTokenGenerator(cfg.Security.OperatorJWTSecret, tokenIssuer, 0)

	return rest.Handlers{
		Health: rest.NewHealthHandler(app.SQL, func() []string {
			offers := app.Registry.Offerable()
			names := make([]string, 0, len(offers))
			for _, o := range offers {
				names = append(names, o.Name)
			}
			return names
		}),
		Webhook:         webhook.NewHandler(base, ingestor, app.Processor, cfg.Server.MaxBodyBytes).Receive,
		Checkout:        checkout.NewHandler(base, checkoutService).Start,
		Donation:        donation.NewHandler(base, donationService).GetDonation,
		Subscription:    recurring.NewHandler(base, subscriptionService).GetSubscription,
		Gateways:        gateway.NewHandler(base, app.Registry).List,
		RequireOperator: auth.NewHandler(base, tokens).RequireOperator,
	}
}
