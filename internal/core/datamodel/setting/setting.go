package setting

import "time"

type GatewaySetting struct {
	Gateway   string    `gorm:"primaryKey;column:gateway"`
	WebhookID string    `gorm:"column:webhook_id"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (GatewaySetting) TableName() string {
	return "gateway_settings"
}
