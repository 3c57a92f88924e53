package subscription

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type EntryKind string

const (
	EntryCreated   EntryKind = "created"
	EntryRenewed   EntryKind = "renewed"
	EntryPaused    EntryKind = "paused"
	EntryResumed   EntryKind = "resumed"
	EntryCancelled EntryKind = "cancelled"
	EntryExpired   EntryKind = "expired"
)

type Subscription struct {
	ID                    int64      `gorm:"primaryKey"`
	Gateway               string     `gorm:"column:gateway;not null"`
	GatewaySubscriptionID string     `gorm:"column:gateway_subscription_id;not null;uniqueIndex"`
	PlanVariationID       string     `gorm:"column:plan_variation_id"`
	DonationID            int64      `gorm:"column:donation_id;not null;index"`
	Status                Status     `gorm:"column:status;not null"`
	LastRenewalAt         *time.Time `gorm:"column:last_renewal_at"`
	CreatedAt             time.Time  `gorm:"column:created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entry is one append-only row of a subscription's history.
type Entry struct {
	ID               int64     `gorm:"primaryKey"`
	SubscriptionID   int64     `gorm:"column:subscription_id;not null;index"`
	Kind             EntryKind `gorm:"column:kind;not null"`
	RenewalSequence  *int64    `gorm:"column:renewal_sequence"`
	GatewayPaymentID *string   `gorm:"column:gateway_payment_id"`
	AmountMinor      *int64    `gorm:"column:amount_minor"`
	Currency         *string   `gorm:"column:currency"`
	OccurredAt       time.Time `gorm:"column:occurred_at;not null"`
}

func (Entry) TableName() string {
	return "subscription_entries"
}
