package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeDonationAwaitingGateway = "donation.awaiting_gateway"
	EventTypeDonationCompleted       = "donation.completed"
	EventTypeDonationFailed          = "donation.failed"
	EventTypeDonationCancelled       = "donation.cancelled"
	EventTypeDonationRefunded        = "donation.refunded"
	EventTypeDonationDisputed        = "donation.disputed"

	EventTypeSubscriptionCreated   = "subscription.created"
	EventTypeSubscriptionRenewed   = "subscription.renewed"
	EventTypeSubscriptionPaused    = "subscription.paused"
	EventTypeSubscriptionResumed   = "subscription.resumed"
	EventTypeSubscriptionCancelled = "subscription.cancelled"
	EventTypeSubscriptionExpired   = "subscription.expired"
)

const (
	DonationPrefix     = "donation."
	SubscriptionPrefix = "subscription."
)

// DonationStatusChangedEvent is emitted once per applied donation transition.
type DonationStatusChangedEvent struct {
	BaseEvent
	DonationID     int64  `json:"donation_id"`
	DonationKey    string `json:"donation_key"`
	Gateway        string `json:"gateway"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	IdempotencyKey string `json:"idempotency_key"`
}

func NewDonationStatusChangedEvent(donationID int64, donationKey, gateway, fromStatus, toStatus, idempotencyKey string) *DonationStatusChangedEvent {
	return &DonationStatusChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      "donation." + toStatus,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"donation_id":     donationID,
				"donation_key":    donationKey,
				"gateway":         gateway,
				"from_status":     fromStatus,
				"to_status":       toStatus,
				"idempotency_key": idempotencyKey,
			},
		},
		DonationID:     donationID,
		DonationKey:    donationKey,
		Gateway:        gateway,
		FromStatus:     fromStatus,
		ToStatus:       toStatus,
		IdempotencyKey: idempotencyKey,
	}
}

// SubscriptionChangedEvent is emitted once per applied ledger entry.
type SubscriptionChangedEvent struct {
	BaseEvent
	SubscriptionID        int64  `json:"subscription_id"`
	GatewaySubscriptionID string `json:"gateway_subscription_id"`
	DonationID            int64  `json:"donation_id"`
	Kind                  string `json:"kind"`
	Status                string `json:"status"`
	IdempotencyKey        string `json:"idempotency_key"`
}

func NewSubscriptionChangedEvent(subscriptionID int64, gatewaySubscriptionID string, donationID int64, kind, status, idempotencyKey string) *SubscriptionChangedEvent {
	return &SubscriptionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      "subscription." + kind,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"subscription_id":         subscriptionID,
				"gateway_subscription_id": gatewaySubscriptionID,
				"donation_id":             donationID,
				"kind":                    kind,
				"status":                  status,
				"idempotency_key":         idempotencyKey,
			},
		},
		SubscriptionID:        subscriptionID,
		GatewaySubscriptionID: gatewaySubscriptionID,
		DonationID:            donationID,
		Kind:                  kind,
		Status:                status,
		IdempotencyKey:        idempotencyKey,
	}
}
