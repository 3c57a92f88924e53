package gatewayevent

import (
	"time"

	"gorm.io/datatypes"
)

// GatewayEvent is one verified webhook delivery, stored as received.
type GatewayEvent struct {
	ID          string            `gorm:"primaryKey;column:id"`
	Gateway     string            `gorm:"column:gateway;not null;index"`
	EventType   string            `gorm:"column:event_type;not null"`
	DeliveryID  *string           `gorm:"column:delivery_id"`
	Payload     datatypes.JSON    `gorm:"column:payload;type:jsonb;not null"`
	Headers     datatypes.JSONMap `gorm:"column:headers;type:jsonb"`
	Signature   string            `gorm:"column:signature"`
	PayloadHash string            `gorm:"column:payload_hash;not null"`
	ReceivedAt  time.Time         `gorm:"column:received_at;not null;index"`
}

func (GatewayEvent) TableName() string {
	return "gateway_events"
}

type RetryState string

const (
	RetryPending   RetryState = "pending"
	RetryDone      RetryState = "done"
	RetryAbandoned RetryState = "abandoned"
)

// EventRetry schedules another processing attempt for an event whose
// donation was not yet visible.
type EventRetry struct {
	ID             int64      `gorm:"primaryKey"`
	GatewayEventID string     `gorm:"column:gateway_event_id;not null;uniqueIndex"`
	Attempts       int        `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt  time.Time  `gorm:"column:next_attempt_at;not null;index"`
	State          RetryState `gorm:"column:state;not null"`
	LastError      string     `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (EventRetry) TableName() string {
	return "event_retries"
}
