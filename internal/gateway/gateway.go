// Package gateway holds the gateway-neutral pieces of the payment
// integration: the adapter contract, the request mapper, the response
// normalizer and the capability-gated registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
)

var (
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrMalformedPayload   = errors.New("malformed webhook payload")
	ErrUnknownGateway     = errors.New("unknown gateway")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	ErrGatewayRejected    = errors.New("gateway rejected request")
)

// EventKind is the gateway-neutral meaning of a webhook.
type EventKind string

const (
	KindCheckoutCreated       EventKind = "checkout_created"
	KindPaymentCompleted      EventKind = "payment_completed"
	KindPaymentFailed         EventKind = "payment_failed"
	KindPaymentCancelled      EventKind = "payment_cancelled"
	KindRefund                EventKind = "refund"
	KindDispute               EventKind = "dispute"
	KindSubscriptionCreated   EventKind = "subscription_created"
	KindSubscriptionRenewed   EventKind = "subscription_renewed"
	KindSubscriptionPaused    EventKind = "subscription_paused"
	KindSubscriptionResumed   EventKind = "subscription_resumed"
	KindSubscriptionCancelled EventKind = "subscription_cancelled"
	KindSubscriptionExpired   EventKind = "subscription_expired"
	KindIgnored               EventKind = "ignored"
)

// IsSubscription reports whether k is handled by the recurring ledger.
func (k EventKind) IsSubscription() bool {
	switch k {
	case KindSubscriptionCreated, KindSubscriptionRenewed, KindSubscriptionPaused,
		KindSubscriptionResumed, KindSubscriptionCancelled, KindSubscriptionExpired:
		return true
	}
	return false
}

// Envelope is the minimal, verified part of a webhook. Object stays raw
// until the adapter classifies it.
type Envelope struct {
	Type       string
	DeliveryID string
	CreatedAt  time.Time
	Object     json.RawMessage
}

// Notification is a classified webhook. SubscriptionStatus carries the
// gateway's reported state for subscription_created.
type Notification struct {
	Kind               EventKind
	Response           *Response
	SubscriptionStatus subscriptionmodel.Status
}

type Verifier interface {
	Verify(body []byte, headers http.Header) error
}

// Adapter is one statically known gateway integration.
type Adapter interface {
	Verifier
	Name() string
	SignatureHeader() string
	ParseEnvelope(body []byte) (*Envelope, error)
	Classify(env *Envelope) (*Notification, error)
	FieldMap() FieldMap
	CreateCheckout(ctx context.Context, payload map[string]any) (*Response, error)
	TransactionLink(transactionID string, sandbox bool) string
}

// IsTransient reports whether an outbound call may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnreachable)
}

// HTTPStatusError classifies an HTTP status from a gateway API.
func HTTPStatusError(status int) error {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return ErrGatewayUnreachable
	case status >= 400:
		return ErrGatewayRejected
	}
	return nil
}
