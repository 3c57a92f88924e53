package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/webhook"
)

type GatewayEventRepository struct {
	db *gorm.DB
}

func NewGatewayEventRepository(db *gorm.DB) *GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

func (r *GatewayEventRepository) Create(ctx context.Context, ev *gatewayevent.GatewayEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *GatewayEventRepository) Get(ctx context.Context, id string) (*gatewayevent.GatewayEvent, error) {
	var ev gatewayevent.GatewayEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeleteOlderThan evicts deliveries past the retention window, keeping any
// that still have a pending retry.
func (r *GatewayEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	pending := r.db.Model(&gatewayevent.EventRetry{}).
		Select("gateway_event_id").
		Where("state = ?", gatewayevent.RetryPending)
	res := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Where("id NOT IN (?)", pending).
		Delete(&gatewayevent.GatewayEvent{})
	return res.RowsAffected, res.Error
}

type RetryRepository struct {
	db *gorm.DB
}

func NewRetryRepository(db *gorm.DB) *RetryRepository {
	return &RetryRepository{db: db}
}

func (r *RetryRepository) Schedule(ctx context.Context, gatewayEventID string, next time.Time, lastErr string) error {
	retry := &gatewayevent.EventRetry{
		GatewayEventID: gatewayEventID,
		NextAttemptAt:  next,
		State:          gatewayevent.RetryPending,
		LastError:      lastErr,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"next_attempt_at", "state", "last_error", "updated_at"}),
		}).
		Create(retry).Error
}

func (r *RetryRepository) Due(ctx context.Context, now time.Time, limit int) ([]gatewayevent.EventRetry, error) {
	var due []gatewayevent.EventRetry
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_attempt_at <= ?", gatewayevent.RetryPending, now).
		Order("next_attempt_at").
		Limit(limit).
		Find(&due).Error
	return due, err
}

func (r *RetryRepository) Save(ctx context.Context, retry *gatewayevent.EventRetry) error {
	return r.db.WithContext(ctx).Save(retry).Error
}

func (r *RetryRepository) DeleteFinishedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("state <> ? AND updated_at < ?", gatewayevent.RetryPending, cutoff).
		Delete(&gatewayevent.EventRetry{})
	return res.RowsAffected, res.Error
}

var (
	_ webhook.RepositoryAPI      = (*GatewayEventRepository)(nil)
	_ webhook.RetryRepositoryAPI = (*RetryRepository)(nil)
)
