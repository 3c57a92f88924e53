package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
)

type ProcessedEventRepository struct {
	db *gorm.DB
}

func NewProcessedEventRepository(db *gorm.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Claim inserts rec with ON CONFLICT DO NOTHING. On postgres a concurrent
// claim of the same key waits for the first transaction and then loses.
func (r *ProcessedEventRepository) Claim(ctx context.Context, rec *idempotency.ProcessedEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ProcessedEventRepository) Get(ctx context.Context, key string) (*idempotency.ProcessedEvent, error) {
	var rec idempotency.ProcessedEvent
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ProcessedEventRepository) Finalize(ctx context.Context, rec *idempotency.ProcessedEvent) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// ListByDonation returns the recorded outcomes for a donation, oldest first.
func (r *ProcessedEventRepository) ListByDonation(ctx context.Context, donationID int64) ([]idempotency.ProcessedEvent, error) {
	var recs []idempotency.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("donation_id = ?", donationID).
		Order("processed_at, id").
		Find(&recs).Error
	return recs, err
}

// DeleteOlderThan evicts records past the idempotency retention window.
func (r *ProcessedEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&idempotency.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

var _ reconcile.ProcessedStore = (*ProcessedEventRepository)(nil)
