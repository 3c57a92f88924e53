package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/recurring"
)

type SubscriptionRepository struct {
	db   *gorm.DB
	lock bool
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Locking returns a repository bound to tx that locks the subscription row
// it reads where the dialect allows it.
func (r *SubscriptionRepository) Locking(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx, lock: true}
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *subscriptionmodel.Subscription) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*subscriptionmodel.Subscription, error) {
	q := r.db.WithContext(ctx)
	if r.lock && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var s subscriptionmodel.Subscription
	err := q.Where("gateway_subscription_id = ?", gatewaySubscriptionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, recurring.NotFound(gatewaySubscriptionID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepository) Save(ctx context.Context, s *subscriptionmodel.Subscription) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *SubscriptionRepository) AppendEntry(ctx context.Context, e *subscriptionmodel.Entry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *SubscriptionRepository) ListEntries(ctx context.Context, subscriptionID int64) ([]subscriptionmodel.Entry, error) {
	var entries []subscriptionmodel.Entry
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("occurred_at, id").
		Find(&entries).Error
	return entries, err
}

var _ recurring.RepositoryAPI = (*SubscriptionRepository)(nil)
