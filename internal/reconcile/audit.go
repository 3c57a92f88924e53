package reconcile

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/donation-gateway/internal/core/events"
)

// AuditHandler writes every engine notification to the log. It stands in
// for the downstream notification layer.
type AuditHandler struct {
	logger *slog.Logger
}

func NewAuditHandler(logger *slog.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

func (h *AuditHandler) HandleDonation(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.DonationStatusChangedEvent)
	if !ok {
		h.logger.Error("invalid event type for donation audit handler", "event_type", event.EventType())
		return nil
	}
	h.logger.Info("donation status changed",
		"event_id", e.EventID(),
		"donation_id", e.DonationID,
		"gateway", e.Gateway,
		"from_status", e.FromStatus,
		"to_status", e.ToStatus)
	return nil
}

func (h *AuditHandler) HandleSubscription(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.SubscriptionChangedEvent)
	if !ok {
		h.logger.Error("invalid event type for subscription audit handler", "event_type", event.EventType())
		return nil
	}
	h.logger.Info("subscription changed",
		"event_id", e.EventID(),
		"subscription_id", e.SubscriptionID,
		"gateway_subscription_id", e.GatewaySubscriptionID,
		"kind", e.Kind,
		"status", e.Status)
	return nil
}

func (h *AuditHandler) RegisterEventHandlers(bus *events.EventBus) {
	bus.SubscribePrefix(events.DonationPrefix, h.HandleDonation)
	bus.SubscribePrefix(events.SubscriptionPrefix, h.HandleSubscription)
}
