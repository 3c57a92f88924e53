package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/setting"
)

// SettingRepository stores the per-gateway values this service writes
// itself, currently only the registered webhook id.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get returns nil without error when nothing is stored for gateway.
func (r *SettingRepository) Get(ctx context.Context, gateway string) (*setting.GatewaySetting, error) {
	var s setting.GatewaySetting
	err := r.db.WithContext(ctx).Where("gateway = ?", gateway).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingRepository) SaveWebhookID(ctx context.Context, gateway, webhookID string) error {
	s := &setting.GatewaySetting{
		Gateway:   gateway,
		WebhookID: webhookID,
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway"}},
			DoUpdates: clause.AssignmentColumns([]string{"webhook_id", "updated_at"}),
		}).
		Create(s).Error
}
