package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/capability"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/events"
	donationpg "github.com/frahmantamala/donation-gateway/internal/donation/postgres"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/gateway/square"
	"github.com/frahmantamala/donation-gateway/internal/gateway/stripe"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
	reconcilepg "github.com/frahmantamala/donation-gateway/internal/reconcile/postgres"
	"github.com/frahmantamala/donation-gateway/internal/webhook"
	webhookpg "github.com/frahmantamala/donation-gateway/internal/webhook/postgres"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

// App holds the pieces shared by the server and the maintenance commands.
type App struct {
	Config   *internal.Config
	SQL      *sqlx.DB
	DB       *gorm.DB
	Logger   *slog.Logger
	Registry *gateway.Registry
	Bus      *events.EventBus
	Engine   *reconcile.Engine

	Donations *donationpg.DonationRepository
	Processed *reconcilepg.ProcessedEventRepository
	Events    *webhookpg.GatewayEventRepository
	Retries   *webhookpg.RetryRepository
	Processor *webhook.Processor
}

func newApp(cfg *internal.Config) (*App, error) {
	lg := logger.LoggerWrapper()

	sqlDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	registry, err := newRegistry(cfg, lg)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	bus := events.NewEventBus(lg)
	reconcile.NewAuditHandler(lg).RegisterEventHandlers(bus)

	engine := reconcile.NewEngine(reconcilepg.NewUnitOfWork(db), bus, lg)
	retries := webhookpg.NewRetryRepository(db)
	processor := webhook.NewProcessor(engine, retries, webhook.ProcessorConfig{
		InlineAttempts:   cfg.Reconcile.InlineRetryAttempts,
		InlineDelay:      cfg.Reconcile.InlineRetryDelay,
		DeferredInterval: cfg.Reconcile.DeferredInterval,
	}, lg)

	return &App{
		Config:    cfg,
		SQL:       sqlDB,
		DB:        db,
		Logger:    lg,
		Registry:  registry,
		Bus:       bus,
		Engine:    engine,
		Donations: donationpg.NewDonationRepository(db),
		Processed: reconcilepg.NewProcessedEventRepository(db),
		Events:    webhookpg.NewGatewayEventRepository(db),
		Retries:   retries,
		Processor: processor,
	}, nil
}

func (a *App) RetryWorker() *webhook.RetryWorker {
	return webhook.NewRetryWorker(a.Processor, a.Events, a.Retries, a.Registry, webhook.WorkerConfig{
		Workers:     a.Config.Reconcile.RetryWorkers,
		BatchSize:   a.Config.Reconcile.DeferredBatchSize,
		Interval:    a.Config.Reconcile.DeferredInterval,
		MaxAttempts: a.Config.Reconcile.DeferredMaxAttempts,
	}, a.Logger)
}

// Modes reports the configured mode of each gateway for new donations.
func (a *App) Modes() map[string]donationmodel.Mode {
	return map[string]donationmodel.Mode{
		square.Name: modeOf(a.Config.Gateways.Square.Mode),
		stripe.Name: modeOf(a.Config.Gateways.Stripe.Mode),
	}
}

// Close waits briefly for in-flight event handlers, then releases the pool.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Bus.Drain(ctx); err != nil {
		a.Logger.Warn("event handlers still running at close", "error", err)
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func modeOf(mode string) donationmodel.Mode {
	if mode == "live" {
		return donationmodel.ModeLive
	}
	return donationmodel.ModeSandbox
}

// gates passes only when every member passes; the first failure's reason wins.
type gates []gateway.Gate

func (g gates) Status() (bool, string) {
	for _, gate := range g {
		if ok, reason := gate.Status(); !ok {
			return false, reason
		}
	}
	return true, ""
}

// Notices collects the notices of every member that keeps them.
func (g gates) Notices() []capability.Notice {
	var out []capability.Notice
	for _, gate := range g {
		if src, ok := gate.(gateway.NoticeSource); ok {
			out = append(out, src.Notices()...)
		}
	}
	return out
}

// configGate fails when a gateway is disabled or missing credentials.
type configGate struct {
	enabled bool
	missing []string
}

func (c configGate) Status() (bool, string) {
	if !c.enabled {
		return false, "disabled in configuration"
	}
	if len(c.missing) > 0 {
		return false, "missing " + strings.Join(c.missing, ", ")
	}
	return true, ""
}

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

func versionConstraint(minVersion string) string {
	if minVersion == "" {
		return ""
	}
	return ">= " + minVersion
}

func newRegistry(cfg *internal.Config, lg *slog.Logger) (*gateway.Registry, error) {
	registry := gateway.NewRegistry(lg)
	probe := capability.RuntimeProbe(cfg.Capability.RuntimeVersion)

	sq := cfg.Gateways.Square
	sqCreds := sq.Credentials()
	sqGate, err := capability.New(square.Name, versionConstraint(sq.MinVersion), probe, lg,
		capability.WithNoticeInterval(cfg.Capability.NoticeInterval))
	if err != nil {
		return nil, err
	}
	registry.Register(gateway.Registration{
		Name:  square.Name,
		Title: "Square",
		Gate: gates{
			configGate{enabled: sq.Enabled, missing: missing(
				"access_token", sqCreds.AccessToken,
				"location_id", sqCreds.LocationID,
				"webhook_key", sqCreds.WebhookKey,
				"notification_url", sq.NotificationURL,
			)},
			sqGate,
		},
		Factory: func() (gateway.Adapter, error) {
			return square.New(square.Config{
				Sandbox:         sq.Mode != "live",
				AccessToken:     sqCreds.AccessToken,
				LocationID:      sqCreds.LocationID,
				SignatureKey:    sqCreds.WebhookKey,
				NotificationURL: sq.NotificationURL,
				BaseURL:         sqCreds.BaseURL,
				APIVersion:      sq.APIVersion,
				Timeout:         cfg.Checkout.Timeout,
			}, lg), nil
		},
	})

	st := cfg.Gateways.Stripe
	stCreds := st.Credentials()
	stGate, err := capability.New(stripe.Name, versionConstraint(st.MinVersion), probe, lg,
		capability.WithNoticeInterval(cfg.Capability.NoticeInterval))
	if err != nil {
		return nil, err
	}
	registry.Register(gateway.Registration{
		Name:  stripe.Name,
		Title: "Stripe",
		Gate: gates{
			configGate{enabled: st.Enabled, missing: missing(
				"secret_key", stCreds.AccessToken,
				"webhook_secret", stCreds.WebhookKey,
			)},
			stGate,
		},
		Factory: func() (gateway.Adapter, error) {
			return stripe.New(stripe.Config{
				SecretKey:     stCreds.AccessToken,
				WebhookSecret: stCreds.WebhookKey,
				BaseURL:       stCreds.BaseURL,
				Timeout:       cfg.Checkout.Timeout,
			}, lg), nil
		},
	})

	return registry, nil
}

// initDB opens the pgx pool shared by gorm and the health check.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}
