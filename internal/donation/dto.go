package donation

import (
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/core/common/validation"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
)

type DonorDTO struct {
	ID           *int64 `json:"id,omitempty"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

type AllocationDTO struct {
	CampaignID    int64           `json:"campaign_id"`
	CampaignTitle string          `json:"campaign_title,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// RecurringDTO turns the checkout into a subscription. Square bills
// against a catalog plan variation, so it needs one; Stripe prices the
// interval inline.
type RecurringDTO struct {
	Interval        string `json:"interval"`
	PlanVariationID string `json:"plan_variation_id,omitempty"`
}

// CreateDonationDTO is the donor-facing checkout request.
type CreateDonationDTO struct {
	Gateway     string          `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Locale      string          `json:"locale,omitempty"`
	Donor       DonorDTO        `json:"donor"`
	Allocations []AllocationDTO `json:"allocations"`
	Recurring   *RecurringDTO   `json:"recurring,omitempty"`
}

// plansRequired lists the gateways that cannot price a recurring checkout
// without a catalog plan variation.
var plansRequired = map[string]bool{"square": true}

func (dto CreateDonationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("gateway", dto.Gateway).Required()
	v.Field("donor.email", dto.Donor.Email).Required().Email()
	v.Field("donor.first_name", dto.Donor.FirstName).MaxLength(100)
	v.Field("donor.last_name", dto.Donor.LastName).MaxLength(100)
	v.Field("description", dto.Description).MaxLength(500)
	v.Field("allocations", len(dto.Allocations)).Custom(func(value interface{}) *errors.AppError {
		if value.(int) == 0 {
			return errors.NewValidationFieldError("allocations", "at least one campaign allocation is required", errors.ErrCodeInvalidAlloc)
		}
		return nil
	})
	if r := dto.Recurring; r != nil {
		v.Field("recurring.interval", r.Interval).Required().OneOf(donationmodel.IntervalMonth, donationmodel.IntervalYear)
		v.Field("recurring.plan_variation_id", r.PlanVariationID).MaxLength(255)
		if plansRequired[dto.Gateway] {
			v.Field("recurring.plan_variation_id", r.PlanVariationID).Required()
		}
	}
	if err := v.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateMoney("amount", dto.Amount, dto.Currency); err != nil {
		return err
	}

	sum := decimal.Zero
	for _, a := range dto.Allocations {
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(dto.Amount) {
		return errors.NewValidationFieldError("allocations", "allocations must sum to the donation amount", errors.ErrCodeInvalidAlloc)
	}
	return nil
}

// ToModel builds a donation row in pending_creation.
func (dto CreateDonationDTO) ToModel(key string, mode donationmodel.Mode) *donationmodel.Donation {
	allocs := make([]donationmodel.Allocation, 0, len(dto.Allocations))
	for _, a := range dto.Allocations {
		allocs = append(allocs, donationmodel.Allocation{
			CampaignID:    a.CampaignID,
			CampaignTitle: a.CampaignTitle,
			Amount:        a.Amount,
		})
	}
	d := &donationmodel.Donation{
		DonationKey:    key,
		DonorID:        dto.Donor.ID,
		DonorEmail:     dto.Donor.Email,
		DonorFirstName: dto.Donor.FirstName,
		DonorLastName:  dto.Donor.LastName,
		AddressLine1:   dto.Donor.AddressLine1,
		AddressLine2:   dto.Donor.AddressLine2,
		City:           dto.Donor.City,
		State:          dto.Donor.State,
		PostalCode:     dto.Donor.PostalCode,
		Country:        dto.Donor.Country,
		Allocations:    allocs,
		Amount:         dto.Amount,
		Currency:       dto.Currency,
		Description:    dto.Description,
		Gateway:        dto.Gateway,
		Status:         donationmodel.StatusPendingCreation,
		Mode:           mode,
		Locale:         dto.Locale,
	}
	if r := dto.Recurring; r != nil {
		interval := r.Interval
		d.RecurringInterval = &interval
		d.PlanVariationID = r.PlanVariationID
	}
	return d
}

// DonationView is the operator representation of a donation.
type DonationView struct {
	ID                   int64                      `json:"id"`
	DonationKey          string                     `json:"donation_key"`
	Status               donationmodel.Status       `json:"status"`
	Amount               decimal.Decimal            `json:"amount"`
	Currency             string                     `json:"currency"`
	Gateway              string                     `json:"gateway"`
	GatewayTransactionID string                     `json:"gateway_transaction_id,omitempty"`
	GatewayPaymentID     string                     `json:"gateway_payment_id,omitempty"`
	TransactionLink      string                     `json:"transaction_link,omitempty"`
	Mode                 donationmodel.Mode         `json:"mode"`
	RecurringInterval    string                     `json:"recurring_interval,omitempty"`
	DonorEmail           string                     `json:"donor_email"`
	Allocations          []donationmodel.Allocation `json:"allocations"`
	History              []OutcomeView              `json:"history,omitempty"`
	CreatedAt            string                     `json:"created_at"`
	UpdatedAt            string                     `json:"updated_at"`
}

// OutcomeView is one reconciled gateway event as seen by operators.
type OutcomeView struct {
	EventType   string `json:"event_type"`
	Outcome     string `json:"outcome"`
	FromStatus  string `json:"from_status,omitempty"`
	ToStatus    string `json:"to_status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ProcessedAt string `json:"processed_at"`
}
