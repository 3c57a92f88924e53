// Package square integrates Square payment links and webhooks.
package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

const (
	Name            = "square"
	SignatureHeader = "X-Square-Hmacsha256-Signature"

	SandboxBaseURL = "https://connect.squareupsandbox.com"
	LiveBaseURL    = "https://connect.squareup.com"

	defaultAPIVersion = "2025-01-23"
)

type Config struct {
	Sandbox         bool
	AccessToken     string
	LocationID      string
	SignatureKey    string
	NotificationURL string
	BaseURL         string
	APIVersion      string
	Timeout         time.Duration
}

type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = LiveBaseURL
		if cfg.Sandbox {
			cfg.BaseURL = SandboxBaseURL
		}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("gateway", Name),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) SignatureHeader() string { return SignatureHeader }

// Verify checks base64(HMAC-SHA256(key, notificationURL+body)) against the
// signature header.
func (a *Adapter) Verify(body []byte, headers http.Header) error {
	got := headers.Get(SignatureHeader)
	if got == "" {
		return fmt.Errorf("%w: missing %s header", gateway.ErrSignatureMismatch, SignatureHeader)
	}
	want := Sign(a.cfg.SignatureKey, a.cfg.NotificationURL, body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return gateway.ErrSignatureMismatch
	}
	return nil
}

// Sign computes the Square webhook signature for body.
func Sign(signatureKey, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) ParseEnvelope(body []byte) (*gateway.Envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", gateway.ErrMalformedPayload)
	}
	out := &gateway.Envelope{
		Type:       env.Type,
		DeliveryID: env.EventID,
		Object:     env.Data.Object,
	}
	if t, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	return out, nil
}

func (a *Adapter) TransactionLink(id string, sandbox bool) string {
	host := "https://squareup.com"
	if sandbox {
		host = "https://squareupsandbox.com"
	}
	return host + "/dashboard/sales/transactions/" + id
}
