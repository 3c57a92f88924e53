package postgres

import (
	"context"

	"gorm.io/gorm"

	donationpg "github.com/frahmantamala/donation-gateway/internal/donation/postgres"
	recurringpg "github.com/frahmantamala/donation-gateway/internal/recurring/postgres"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
)

// UnitOfWork runs engine work in one gorm transaction. Donation and
// subscription reads inside it take row locks on postgres.
type UnitOfWork struct {
	db            *gorm.DB
	donations     *donationpg.DonationRepository
	subscriptions *recurringpg.SubscriptionRepository
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{
		db:            db,
		donations:     donationpg.NewDonationRepository(db),
		subscriptions: recurringpg.NewSubscriptionRepository(db),
	}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s reconcile.Stores) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, reconcile.Stores{
			Donations:     u.donations.Locking(tx),
			Subscriptions: u.subscriptions.Locking(tx),
			Processed:     NewProcessedEventRepository(tx),
		})
	})
}

var _ reconcile.UnitOfWork = (*UnitOfWork)(nil)
