package idempotency

import (
	"time"

	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
)

// ProcessedEvent maps an idempotency key to the outcome already recorded for it.
type ProcessedEvent struct {
	ID             int64             `gorm:"primaryKey"`
	IdempotencyKey string            `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Gateway        string            `gorm:"column:gateway;not null"`
	EventType      string            `gorm:"column:event_type;not null"`
	GatewayEventID *string           `gorm:"column:gateway_event_id"`
	DonationID     *int64            `gorm:"column:donation_id;index"`
	SubscriptionID *int64            `gorm:"column:subscription_id"`
	Outcome        Outcome           `gorm:"column:outcome;not null"`
	FromStatus     string            `gorm:"column:from_status"`
	ToStatus       string            `gorm:"column:to_status"`
	Reason         string            `gorm:"column:reason"`
	Detail         datatypes.JSONMap `gorm:"column:detail;type:jsonb"`
	ProcessedAt    time.Time         `gorm:"column:processed_at;not null;index"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
