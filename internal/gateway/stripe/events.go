package stripe

import (
	"strings"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

var schemas = map[gateway.ObjectKind]gateway.Schema{
	gateway.ObjectCheckout: {
		TransactionID:  []string{"id"},
		PaymentID:      []string{"payment_intent"},
		SubscriptionID: []string{"subscription"},
		DonationKey:    []string{"client_reference_id", "metadata.donation_key"},
		CustomerID:     []string{"customer"},
		AmountMinor:    []string{"amount_total"},
		Currency:       []string{"currency"},
		Status:         []string{"payment_status"},
		CheckoutURL:    []string{"url"},
		Statuses: map[string]gateway.Status{
			"PAID":                gateway.StatusCompleted,
			"NO_PAYMENT_REQUIRED": gateway.StatusCompleted,
			"UNPAID":              gateway.StatusPending,
		},
		SandboxMarker: "cs_test_",
	},
	gateway.ObjectPayment: {
		PaymentID:   []string{"id"},
		DonationKey: []string{"metadata.donation_key"},
		CustomerID:  []string{"customer"},
		AmountMinor: []string{"amount_received", "amount"},
		Currency:    []string{"currency"},
		Status:      []string{"status"},
		Statuses: map[string]gateway.Status{
			"SUCCEEDED":               gateway.StatusCompleted,
			"CANCELED":                gateway.StatusCancelled,
			"REQUIRES_PAYMENT_METHOD": gateway.StatusFailed,
			"REQUIRES_ACTION":         gateway.StatusRequiresAction,
			"PROCESSING":              gateway.StatusPending,
		},
	},
	gateway.ObjectRefund: {
		PaymentID:   []string{"payment_intent"},
		DonationKey: []string{"metadata.donation_key"},
		AmountMinor: []string{"amount_refunded"},
		Currency:    []string{"currency"},
		Status:      []string{"status"},
		Statuses: map[string]gateway.Status{
			"SUCCEEDED": gateway.StatusCompleted,
			"FAILED":    gateway.StatusFailed,
		},
	},
	gateway.ObjectDispute: {
		PaymentID:   []string{"payment_intent"},
		AmountMinor: []string{"amount"},
		Currency:    []string{"currency"},
		Status:      []string{"status"},
	},
	gateway.ObjectSubscription: {
		SubscriptionID:  []string{"id"},
		PlanVariationID: []string{"items.data.0.price.id", "plan.id"},
		DonationKey:     []string{"metadata.donation_key"},
		CustomerID:      []string{"customer"},
		Status:          []string{"status"},
	},
	gateway.ObjectInvoice: {
		SubscriptionID: []string{"subscription", "parent.subscription_details.subscription"},
		PaymentID:      []string{"payment_intent"},
		CustomerID:     []string{"customer"},
		DonationKey:    []string{"subscription_details.metadata.donation_key", "parent.subscription_details.metadata.donation_key"},
		AmountMinor:    []string{"amount_paid"},
		Currency:       []string{"currency"},
		Status:         []string{"status"},
		Statuses: map[string]gateway.Status{
			"PAID": gateway.StatusCompleted,
		},
	},
}

var eventKinds = map[string]gateway.EventKind{
	"checkout.session.async_payment_succeeded": gateway.KindPaymentCompleted,
	"checkout.session.async_payment_failed":    gateway.KindPaymentFailed,
	"checkout.session.expired":                 gateway.KindPaymentCancelled,
	"payment_intent.succeeded":                 gateway.KindPaymentCompleted,
	"payment_intent.payment_failed":            gateway.KindPaymentFailed,
	"payment_intent.canceled":                  gateway.KindPaymentCancelled,
	"charge.dispute.created":                   gateway.KindDispute,
	"customer.subscription.created":            gateway.KindSubscriptionCreated,
	"customer.subscription.paused":             gateway.KindSubscriptionPaused,
	"customer.subscription.resumed":            gateway.KindSubscriptionResumed,
	"customer.subscription.deleted":            gateway.KindSubscriptionCancelled,
}

// Classify turns a verified Stripe event into a gateway-neutral notification.
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
	if k, ok := eventKinds[env.Type]; ok {
		n.Kind = k
	}

	switch env.Type {
	case "checkout.session.completed":
		if resp.IsCompleted() {
			n.Kind = gateway.KindPaymentCompleted
		}
	case "charge.refunded":
		// partial refunds leave the donation completed
		if full, _ := resp.Value("refunded"); full == "true" {
			n.Kind = gateway.KindRefund
		}
	case "customer.subscription.created":
		n.SubscriptionStatus = subscriptionStatus(resp)
	case "customer.subscription.updated":
		raw, _ := resp.RawStatus()
		switch strings.ToLower(raw) {
		case "canceled":
			n.Kind = gateway.KindSubscriptionCancelled
		case "incomplete_expired":
			n.Kind = gateway.KindSubscriptionExpired
		}
	case "invoice.paid":
		if _, ok := resp.SubscriptionID(); ok {
			n.Kind = gateway.KindSubscriptionRenewed
		}
	}
	return n, nil
}

func objectKind(eventType string) gateway.ObjectKind {
	switch {
	case strings.HasPrefix(eventType, "checkout.session."):
		return gateway.ObjectCheckout
	case strings.HasPrefix(eventType, "payment_intent."):
		return gateway.ObjectPayment
	case strings.HasPrefix(eventType, "charge.dispute."):
		return gateway.ObjectDispute
	case strings.HasPrefix(eventType, "charge."):
		return gateway.ObjectRefund
	case strings.HasPrefix(eventType, "customer.subscription."):
		return gateway.ObjectSubscription
	case strings.HasPrefix(eventType, "invoice."):
		return gateway.ObjectInvoice
	}
	return ""
}

func subscriptionStatus(resp *gateway.Response) subscriptionmodel.Status {
	raw, _ := resp.RawStatus()
	switch strings.ToLower(raw) {
	case "paused":
		return subscriptionmodel.StatusPaused
	case "canceled":
		return subscriptionmodel.StatusCancelled
	case "incomplete_expired":
		return subscriptionmodel.StatusExpired
	}
	return subscriptionmodel.StatusActive
}
