// Package reconcile applies normalized gateway events to donations and
// subscriptions exactly once.
package reconcile

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/money"
)

// NormalizedEvent is everything the engine needs from one notification,
// independent of the gateway that sent it.
type NormalizedEvent struct {
	Gateway        string
	EventType      string
	Kind           gateway.EventKind
	DeliveryID     string
	GatewayEventID string

	TransactionID   string
	PaymentID       string
	DonationKey     string
	CustomerID      string
	SubscriptionID  string
	PlanVariationID string
	RenewalSequence *int64
	Amount          *money.Amount

	SubscriptionStatus subscriptionmodel.Status
	PayloadHash        string
	OccurredAt         time.Time
}

// Normalize builds the engine's view of a classified webhook.
func Normalize(gatewayName, gatewayEventID string, env *gateway.Envelope, n *gateway.Notification, payload []byte) NormalizedEvent {
	ev := NormalizedEvent{
		Gateway:            gatewayName,
		EventType:          env.Type,
		Kind:               n.Kind,
		DeliveryID:         env.DeliveryID,
		GatewayEventID:     gatewayEventID,
		SubscriptionStatus: n.SubscriptionStatus,
		PayloadHash:        PayloadHash(payload),
		OccurredAt:         env.CreatedAt,
	}
	if n.Response != nil {
		ev.fill(n.Response)
	}
	return ev
}

// FromCheckout builds the checkout_created event for a checkout the
// service itself just opened.
func FromCheckout(gatewayName, donationKey string, resp *gateway.Response) NormalizedEvent {
	ev := NormalizedEvent{
		Gateway:     gatewayName,
		EventType:   string(gateway.KindCheckoutCreated),
		Kind:        gateway.KindCheckoutCreated,
		DonationKey: donationKey,
		PayloadHash: PayloadHash(resp.JSON()),
		OccurredAt:  time.Now().UTC(),
	}
	ev.fill(resp)
	if ev.DonationKey == "" {
		ev.DonationKey = donationKey
	}
	return ev
}

func (e *NormalizedEvent) fill(resp *gateway.Response) {
	e.TransactionID, _ = resp.TransactionID()
	e.PaymentID, _ = resp.PaymentID()
	if key, ok := resp.DonationKey(); ok {
		e.DonationKey = key
	}
	e.CustomerID, _ = resp.CustomerID()
	e.SubscriptionID, _ = resp.SubscriptionID()
	e.PlanVariationID, _ = resp.PlanVariationID()
	if seq, ok := resp.RenewalSequence(); ok {
		e.RenewalSequence = &seq
	}
	if amt, ok := resp.Amount(); ok {
		e.Amount = &amt
	}
}

func (e NormalizedEvent) hasDonationRef() bool {
	return e.TransactionID != "" || e.PaymentID != "" || e.DonationKey != ""
}

// IdempotencyKey derives the deterministic key that deduplicates
// deliveries. Renewals with a sequence are keyed by subscription so a
// gateway resending the same renewal under a new delivery id is still
// caught. Without a delivery id the key falls back to a payload hash.
func (e NormalizedEvent) IdempotencyKey() string {
	switch {
	case e.Kind == gateway.KindCheckoutCreated && e.TransactionID != "":
		return e.Gateway + ":checkout:" + e.TransactionID
	case e.Kind == gateway.KindCheckoutCreated:
		return e.Gateway + ":checkout:key:" + e.DonationKey
	case e.Kind.IsSubscription() && e.SubscriptionID != "" && e.RenewalSequence != nil:
		return fmt.Sprintf("%s:sub:%s:%s:%d", e.Gateway, e.SubscriptionID, e.Kind, *e.RenewalSequence)
	case e.DeliveryID != "":
		return e.Gateway + ":" + e.DeliveryID
	}
	eventType := e.EventType
	if eventType == "" {
		eventType = string(e.Kind)
	}
	return strings.Join([]string{e.Gateway, eventType, e.TransactionID, e.PayloadHash}, ":")
}

// PayloadHash is the hex BLAKE2b-256 digest of the raw body.
func PayloadHash(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
