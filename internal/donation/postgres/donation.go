package postgres

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/donation"
)

type DonationRepository struct {
	db   *gorm.DB
	lock bool
}

func NewDonationRepository(db *gorm.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

// Locking returns a repository bound to tx whose lookups take a row lock
// on dialects that support SELECT ... FOR UPDATE.
func (r *DonationRepository) Locking(tx *gorm.DB) *DonationRepository {
	return &DonationRepository{db: tx, lock: true}
}

func (r *DonationRepository) query(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.lock && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *DonationRepository) Create(ctx context.Context, d *donationmodel.Donation) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DonationRepository) GetByID(ctx context.Context, id int64) (*donationmodel.Donation, error) {
	var d donationmodel.Donation
	if err := r.query(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, "id", strconv.FormatInt(id, 10))
	}
	return &d, nil
}

func (r *DonationRepository) GetByKey(ctx context.Context, key string) (*donationmodel.Donation, error) {
	var d donationmodel.Donation
	if err := r.query(ctx).Where("donation_key = ?", key).First(&d).Error; err != nil {
		return nil, notFound(err, "donation_key", key)
	}
	return &d, nil
}

func (r *DonationRepository) GetByTransactionID(ctx context.Context, gateway, transactionID string) (*donationmodel.Donation, error) {
	var d donationmodel.Donation
	err := r.query(ctx).
		Where("gateway = ? AND gateway_transaction_id = ?", gateway, transactionID).
		First(&d).Error
	if err != nil {
		return nil, notFound(err, "gateway_transaction_id", transactionID)
	}
	return &d, nil
}

func (r *DonationRepository) GetByPaymentID(ctx context.Context, gateway, paymentID string) (*donationmodel.Donation, error) {
	var d donationmodel.Donation
	err := r.query(ctx).
		Where("gateway = ? AND gateway_payment_id = ?", gateway, paymentID).
		Order("id").
		First(&d).Error
	if err != nil {
		return nil, notFound(err, "gateway_payment_id", paymentID)
	}
	return &d, nil
}

// GetUnlinkedRecurring returns the newest recurring donation paid by
// customerID that no subscription points at yet. A plan variation, when
// given, must match the one the donation was checked out with.
func (r *DonationRepository) GetUnlinkedRecurring(ctx context.Context, gateway, customerID, planVariationID string) (*donationmodel.Donation, error) {
	var d donationmodel.Donation
	q := r.query(ctx).
		Where("gateway = ? AND gateway_customer_id = ?", gateway, customerID).
		Where("recurring_interval IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.donation_id = donations.id)")
	if planVariationID != "" {
		q = q.Where("(plan_variation_id = ? OR plan_variation_id = '' OR plan_variation_id IS NULL)", planVariationID)
	}
	if err := q.Order("id DESC").First(&d).Error; err != nil {
		return nil, notFound(err, "gateway_customer_id", customerID)
	}
	return &d, nil
}

func (r *DonationRepository) Save(ctx context.Context, d *donationmodel.Donation) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func notFound(err error, by, value string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return donation.NotFound(by, value)
	}
	return err
}

var _ donation.RepositoryAPI = (*DonationRepository)(nil)
