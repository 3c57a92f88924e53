// Package webhook receives gateway notifications: it verifies and stores
// each delivery, hands it to the reconciliation engine and re-drives the
// ones whose donation was not yet visible.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
	"github.com/frahmantamala/donation-gateway/internal/transport/middleware"
)

var (
	ErrSignatureMismatch = gateway.ErrSignatureMismatch
	ErrMalformedPayload  = gateway.ErrMalformedPayload
)

// AdapterSource resolves a gateway adapter by name; *gateway.Registry
// satisfies it.
type AdapterSource interface {
	Get(name string) (gateway.Adapter, error)
}

type RepositoryAPI interface {
	Create(ctx context.Context, ev *gatewayevent.GatewayEvent) error
	Get(ctx context.Context, id string) (*gatewayevent.GatewayEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type RetryRepositoryAPI interface {
	// Schedule creates or re-arms the pending retry for an event.
	Schedule(ctx context.Context, gatewayEventID string, next time.Time, lastErr string) error
	Due(ctx context.Context, now time.Time, limit int) ([]gatewayevent.EventRetry, error)
	Save(ctx context.Context, r *gatewayevent.EventRetry) error
	DeleteFinishedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Delivery is a verified, stored webhook ready for processing.
// Notification is nil when the delivery was rebuilt from storage.
type Delivery struct {
	Event        *gatewayevent.GatewayEvent
	Envelope     *gateway.Envelope
	Notification *gateway.Notification
	Adapter      gateway.Adapter
}

type Ingestor struct {
	adapters AdapterSource
	events   RepositoryAPI
	logger   *slog.Logger
	now      func() time.Time
}

func NewIngestor(adapters AdapterSource, events RepositoryAPI, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		adapters: adapters,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest verifies body against the gateway's signature before anything
// parses it, then records the delivery. Nothing is stored for a delivery
// that fails verification, parsing or classification.
func (i *Ingestor) Ingest(ctx context.Context, gatewayName string, body []byte, headers http.Header) (*Delivery, error) {
	adapter, err := i.adapters.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(body, headers); err != nil {
		i.logger.Warn("webhook signature rejected", "gateway", gatewayName, "error", err)
		if !errors.Is(err, ErrSignatureMismatch) {
			err = fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
		return nil, err
	}

	env, err := adapter.ParseEnvelope(body)
	if err != nil {
		i.logger.Warn("webhook payload malformed", "gateway", gatewayName, "error", err)
		return nil, err
	}
	n, err := adapter.Classify(env)
	if err != nil {
		i.logger.Warn("webhook object unreadable", "gateway", gatewayName, "event_type", env.Type, "error", err)
		if !errors.Is(err, ErrMalformedPayload) {
			err = fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return nil, err
	}

	ev := &gatewayevent.GatewayEvent{
		ID:          uuid.NewString(),
		Gateway:     gatewayName,
		EventType:   env.Type,
		Payload:     datatypes.JSON(body),
		Headers:     filterHeaders(headers),
		Signature:   headers.Get(adapter.SignatureHeader()),
		PayloadHash: reconcile.PayloadHash(body),
		ReceivedAt:  i.now(),
	}
	if env.DeliveryID != "" {
		id := env.DeliveryID
		ev.DeliveryID = &id
	}
	if err := i.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("persist gateway event: %w", err)
	}

	i.logger.Info("webhook received",
		"gateway", gatewayName,
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"delivery_id", env.DeliveryID)

	return &Delivery{Event: ev, Envelope: env, Notification: n, Adapter: adapter}, nil
}

func filterHeaders(h http.Header) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range middleware.FilterSensitiveHeaders(h) {
		out[k] = v
	}
	return out
}
