package square

import (
	"strings"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

var paymentStatuses = map[string]gateway.Status{
	"APPROVED":  gateway.StatusPending,
	"PENDING":   gateway.StatusPending,
	"COMPLETED": gateway.StatusCompleted,
	"FAILED":    gateway.StatusFailed,
	"CANCELED":  gateway.StatusCancelled,
}

var schemas = map[gateway.ObjectKind]gateway.Schema{
	gateway.ObjectCheckout: {
		TransactionID: []string{"order_id"},
		CheckoutURL:   []string{"url", "long_url"},
		DonationKey:   []string{"payment_note"},
		SandboxMarker: "sandbox",
	},
	gateway.ObjectPayment: {
		TransactionID: []string{"payment.order_id"},
		PaymentID:     []string{"payment.id"},
		DonationKey:   []string{"payment.note", "payment.reference_id"},
		CustomerID:    []string{"payment.customer_id"},
		AmountMinor:   []string{"payment.total_money.amount", "payment.amount_money.amount"},
		Currency:      []string{"payment.total_money.currency", "payment.amount_money.currency"},
		Status:        []string{"payment.status"},
		Statuses:      paymentStatuses,
	},
	gateway.ObjectRefund: {
		TransactionID: []string{"refund.order_id"},
		PaymentID:     []string{"refund.payment_id"},
		AmountMinor:   []string{"refund.amount_money.amount"},
		Currency:      []string{"refund.amount_money.currency"},
		Status:        []string{"refund.status"},
		Statuses: map[string]gateway.Status{
			"PENDING":   gateway.StatusPending,
			"COMPLETED": gateway.StatusCompleted,
			"REJECTED":  gateway.StatusFailed,
			"FAILED":    gateway.StatusFailed,
		},
	},
	gateway.ObjectDispute: {
		PaymentID:   []string{"dispute.disputed_payment.payment_id"},
		AmountMinor: []string{"dispute.amount_money.amount"},
		Currency:    []string{"dispute.amount_money.currency"},
		Status:      []string{"dispute.state"},
	},
	gateway.ObjectSubscription: {
		SubscriptionID:  []string{"subscription.id"},
		PlanVariationID: []string{"subscription.plan_variation_id", "subscription.plan_id"},
		CustomerID:      []string{"subscription.customer_id"},
		Status:          []string{"subscription.status"},
	},
	gateway.ObjectInvoice: {
		TransactionID:  []string{"invoice.order_id"},
		SubscriptionID: []string{"invoice.subscription_id"},
		PaymentID:      []string{"invoice.payment_requests.0.uid"},
		CustomerID:     []string{"invoice.primary_recipient.customer_id"},
		AmountMinor:    []string{"invoice.payment_requests.0.total_completed_amount_money.amount", "invoice.payment_requests.0.computed_amount_money.amount"},
		Currency:       []string{"invoice.payment_requests.0.total_completed_amount_money.currency", "invoice.payment_requests.0.computed_amount_money.currency"},
		Status:         []string{"invoice.status"},
		Statuses: map[string]gateway.Status{
			"PAID": gateway.StatusCompleted,
		},
	},
}

var subscriptionKinds = map[string]gateway.EventKind{
	"ACTIVE":      gateway.KindSubscriptionResumed,
	"PAUSED":      gateway.KindSubscriptionPaused,
	"CANCELED":    gateway.KindSubscriptionCancelled,
	"DEACTIVATED": gateway.KindSubscriptionExpired,
}

// Classify turns a verified envelope into a gateway-neutral notification.
// Unknown event types and non-terminal statuses are ignored.
func (a *Adapter) Classify(env *gateway.Envelope) (*gateway.Notification, error) {
	kind := objectKind(env.Type)
	if kind == "" {
		return &gateway.Notification{Kind: gateway.KindIgnored}, nil
	}
	resp, err := gateway.DecodeResponse(kind, env.Object, schemas[kind])
	if err != nil {
		return nil, err
	}

	n := &gateway.Notification{Kind: gateway.KindIgnored, Response: resp}
	switch env.Type {
	case "payment.created", "payment.updated":
		switch resp.Status() {
		case gateway.StatusCompleted:
			n.Kind = gateway.KindPaymentCompleted
		case gateway.StatusFailed:
			n.Kind = gateway.KindPaymentFailed
		case gateway.StatusCancelled:
			n.Kind = gateway.KindPaymentCancelled
		}
	case "refund.created", "refund.updated":
		if resp.IsCompleted() {
			n.Kind = gateway.KindRefund
		}
	case "dispute.created":
		n.Kind = gateway.KindDispute
	case "subscription.created":
		n.Kind = gateway.KindSubscriptionCreated
		n.SubscriptionStatus = createdStatus(resp)
	case "subscription.updated":
		raw, _ := resp.RawStatus()
		if k, ok := subscriptionKinds[strings.ToUpper(raw)]; ok {
			n.Kind = k
		}
	case "invoice.payment_made":
		if _, ok := resp.SubscriptionID(); ok {
			n.Kind = gateway.KindSubscriptionRenewed
		}
	}
	return n, nil
}

func objectKind(eventType string) gateway.ObjectKind {
	switch {
	case strings.HasPrefix(eventType, "payment."):
		return gateway.ObjectPayment
	case strings.HasPrefix(eventType, "refund."):
		return gateway.ObjectRefund
	case strings.HasPrefix(eventType, "dispute."):
		return gateway.ObjectDispute
	case strings.HasPrefix(eventType, "subscription."):
		return gateway.ObjectSubscription
	case strings.HasPrefix(eventType, "invoice."):
		return gateway.ObjectInvoice
	}
	return ""
}

func createdStatus(resp *gateway.Response) subscriptionmodel.Status {
	raw, _ := resp.RawStatus()
	switch strings.ToUpper(raw) {
	case "PAUSED":
		return subscriptionmodel.StatusPaused
	case "CANCELED":
		return subscriptionmodel.StatusCancelled
	case "DEACTIVATED":
		return subscriptionmodel.StatusExpired
	}
	return subscriptionmodel.StatusActive
}
