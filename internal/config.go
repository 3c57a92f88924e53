package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env        string           `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"http_server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Checkout   CheckoutConfig   `mapstructure:"checkout"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Gateways   GatewaysConfig   `mapstructure:"gateways"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type SecurityConfig struct {
	OperatorJWTSecret string `mapstructure:"operator_jwt_secret" validate:"required,min=32"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

type ReconcileConfig struct {
	InlineRetryAttempts  uint64        `mapstructure:"inline_retry_attempts"`
	InlineRetryDelay     time.Duration `mapstructure:"inline_retry_delay"`
	DeferredMaxAttempts  int           `mapstructure:"deferred_max_attempts"`
	DeferredInterval     time.Duration `mapstructure:"deferred_interval"`
	DeferredBatchSize    int           `mapstructure:"deferred_batch_size"`
	RetryWorkers         int           `mapstructure:"retry_workers"`
	IdempotencyRetention time.Duration `mapstructure:"idempotency_retention"`
}

type CheckoutConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	ReceiptURL string        `mapstructure:"receipt_url" validate:"required,url"`
	ReturnURL  string        `mapstructure:"return_url" validate:"required,url"`
	CancelURL  string        `mapstructure:"cancel_url" validate:"required,url"`
}

type CapabilityConfig struct {
	// RuntimeVersion overrides the probed host version, e.g. when the
	// container image reports its own platform release.
	RuntimeVersion string        `mapstructure:"runtime_version"`
	NoticeInterval time.Duration `mapstructure:"notice_interval"`
}

type GatewaysConfig struct {
	Square SquareConfig `mapstructure:"square"`
	Stripe StripeConfig `mapstructure:"stripe"`
}

type GatewayCredentials struct {
	AccessToken  string `mapstructure:"access_token"`
	LocationID   string `mapstructure:"location_id"`
	WebhookKey   string `mapstructure:"webhook_key"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
	CheckoutHost string `mapstructure:"checkout_host"`
}

type SquareConfig struct {
	Enabled         bool               `mapstructure:"enabled"`
	Mode            string             `mapstructure:"mode" validate:"omitempty,oneof=sandbox live"`
	MinVersion      string             `mapstructure:"min_runtime_version"`
	APIVersion      string             `mapstructure:"api_version"`
	NotificationURL string             `mapstructure:"notification_url" validate:"omitempty,url"`
	Sandbox         GatewayCredentials `mapstructure:"sandbox"`
	Live            GatewayCredentials `mapstructure:"live"`
}

type StripeConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Mode       string             `mapstructure:"mode" validate:"omitempty,oneof=sandbox live"`
	MinVersion string             `mapstructure:"min_runtime_version"`
	Sandbox    GatewayCredentials `mapstructure:"sandbox"`
	Live       GatewayCredentials `mapstructure:"live"`
}

// Credentials returns the credential set of the configured mode.
func (c SquareConfig) Credentials() GatewayCredentials {
	if c.Mode == "live" {
		return c.Live
	}
	return c.Sandbox
}

func (c StripeConfig) Credentials() GatewayCredentials {
	if c.Mode == "live" {
		return c.Live
	}
	return c.Sandbox
}

// ApplyDefaults fills zero values the service can safely assume.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Reconcile.InlineRetryAttempts == 0 {
		c.Reconcile.InlineRetryAttempts = 3
	}
	if c.Reconcile.InlineRetryDelay == 0 {
		c.Reconcile.InlineRetryDelay = 200 * time.Millisecond
	}
	if c.Reconcile.DeferredMaxAttempts == 0 {
		c.Reconcile.DeferredMaxAttempts = 8
	}
	if c.Reconcile.DeferredInterval == 0 {
		c.Reconcile.DeferredInterval = 30 * time.Second
	}
	if c.Reconcile.DeferredBatchSize == 0 {
		c.Reconcile.DeferredBatchSize = 50
	}
	if c.Reconcile.RetryWorkers == 0 {
		c.Reconcile.RetryWorkers = 4
	}
	if c.Reconcile.IdempotencyRetention == 0 {
		c.Reconcile.IdempotencyRetention = 30 * 24 * time.Hour
	}
	if c.Checkout.Timeout == 0 {
		c.Checkout.Timeout = 10 * time.Second
	}
	if c.Checkout.RetryDelay == 0 {
		c.Checkout.RetryDelay = 500 * time.Millisecond
	}
	if c.Capability.NoticeInterval == 0 {
		c.Capability.NoticeInterval = time.Hour
	}
	if c.Gateways.Square.Mode == "" {
		c.Gateways.Square.Mode = "sandbox"
	}
	if c.Gateways.Stripe.Mode == "" {
		c.Gateways.Stripe.Mode = "sandbox"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from plain environment variables
// for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Reconcile: ReconcileConfig{
			DeferredMaxAttempts:  getEnvAsInt("RECONCILE_DEFERRED_MAX_ATTEMPTS", 8),
			DeferredInterval:     getEnvAsDuration("RECONCILE_DEFERRED_INTERVAL", 30*time.Second),
			IdempotencyRetention: getEnvAsDuration("RECONCILE_IDEMPOTENCY_RETENTION", 30*24*time.Hour),
		},
		Checkout: CheckoutConfig{
			Timeout:    getEnvAsDuration("CHECKOUT_TIMEOUT", 10*time.Second),
			ReceiptURL: getEnv("CHECKOUT_RECEIPT_URL", ""),
			ReturnURL:  getEnv("CHECKOUT_RETURN_URL", ""),
			CancelURL:  getEnv("CHECKOUT_CANCEL_URL", ""),
		},
		Capability: CapabilityConfig{
			RuntimeVersion: getEnv("CAPABILITY_RUNTIME_VERSION", ""),
		},
		Gateways: GatewaysConfig{
			Square: SquareConfig{
				Enabled:         getEnvAsBool("SQUARE_ENABLED", false),
				Mode:            getEnv("SQUARE_MODE", "sandbox"),
				MinVersion:      getEnv("SQUARE_MIN_RUNTIME_VERSION", ""),
				APIVersion:      getEnv("SQUARE_API_VERSION", ""),
				NotificationURL: getEnv("SQUARE_NOTIFICATION_URL", ""),
				Sandbox: GatewayCredentials{
					AccessToken: getEnv("SQUARE_SANDBOX_ACCESS_TOKEN", ""),
					LocationID:  getEnv("SQUARE_SANDBOX_LOCATION_ID", ""),
					WebhookKey:  getEnv("SQUARE_SANDBOX_WEBHOOK_KEY", ""),
					BaseURL:     getEnv("SQUARE_SANDBOX_BASE_URL", ""),
				},
				Live: GatewayCredentials{
					AccessToken: getEnv("SQUARE_LIVE_ACCESS_TOKEN", ""),
					LocationID:  getEnv("SQUARE_LIVE_LOCATION_ID", ""),
					WebhookKey:  getEnv("SQUARE_LIVE_WEBHOOK_KEY", ""),
					BaseURL:     getEnv("SQUARE_LIVE_BASE_URL", ""),
				},
			},
			Stripe: StripeConfig{
				Enabled:    getEnvAsBool("STRIPE_ENABLED", false),
				Mode:       getEnv("STRIPE_MODE", "sandbox"),
				MinVersion: getEnv("STRIPE_MIN_RUNTIME_VERSION", ""),
				Sandbox: GatewayCredentials{
					AccessToken: getEnv("STRIPE_SANDBOX_SECRET_KEY", ""),
					WebhookKey:  getEnv("STRIPE_SANDBOX_WEBHOOK_SECRET", ""),
					BaseURL:     getEnv("STRIPE_SANDBOX_BASE_URL", ""),
				},
				Live: GatewayCredentials{
					AccessToken: getEnv("STRIPE_LIVE_SECRET_KEY", ""),
					WebhookKey:  getEnv("STRIPE_LIVE_WEBHOOK_SECRET", ""),
					BaseURL:     getEnv("STRIPE_LIVE_BASE_URL", ""),
				},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateways.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateways config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *GatewaysConfig) Validate() error {
	if c.Square.Enabled {
		creds := c.Square.Credentials()
		if creds.AccessToken == "" || creds.LocationID == "" {
			return fmt.Errorf("square %s access_token and location_id are required", c.Square.Mode)
		}
		if creds.WebhookKey == "" {
			return fmt.Errorf("square %s webhook_key is required", c.Square.Mode)
		}
		if _, err := url.Parse(c.Square.NotificationURL); err != nil || c.Square.NotificationURL == "" {
			return errors.New("square notification_url is required for signature verification")
		}
	}
	if c.Stripe.Enabled {
		creds := c.Stripe.Credentials()
		if creds.AccessToken == "" || creds.WebhookKey == "" {
			return fmt.Errorf("stripe %s secret key and webhook secret are required", c.Stripe.Mode)
		}
	}
	return nil
}
