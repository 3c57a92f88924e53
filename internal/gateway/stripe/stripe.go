// Package stripe integrates Stripe Checkout and webhooks through stripe-go.
package stripe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

const (
	Name            = "stripe"
	SignatureHeader = "Stripe-Signature"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL points the API client somewhere other than api.stripe.com.
	BaseURL string
	Timeout time.Duration
}

type Adapter struct {
	cfg    Config
	api    *client.API
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	// Retries are owned by the checkout path, not the SDK.
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripego.String(cfg.BaseURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Adapter{
		cfg:    cfg,
		api:    api,
		logger: logger.With("gateway", Name),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) SignatureHeader() string { return SignatureHeader }

// Verify checks the Stripe-Signature header (timestamped HMAC-SHA256 with
// replay tolerance) over the raw body.
func (a *Adapter) Verify(body []byte, headers http.Header) error {
	sig := headers.Get(SignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", gateway.ErrSignatureMismatch, SignatureHeader)
	}
	if err := webhook.ValidatePayload(body, sig, a.cfg.WebhookSecret); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrSignatureMismatch, err)
	}
	return nil
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) ParseEnvelope(body []byte) (*gateway.Envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	if env.Type == "" || len(env.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: missing type or data.object", gateway.ErrMalformedPayload)
	}
	out := &gateway.Envelope{
		Type:       env.Type,
		DeliveryID: env.ID,
		Object:     env.Data.Object,
	}
	if env.Created > 0 {
		out.CreatedAt = time.Unix(env.Created, 0).UTC()
	}
	return out, nil
}

func (a *Adapter) TransactionLink(id string, sandbox bool) string {
	if sandbox {
		return "https://dashboard.stripe.com/test/payments/" + id
	}
	return "https://dashboard.stripe.com/payments/" + id
}
