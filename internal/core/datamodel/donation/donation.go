package donation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPendingCreation Status = "pending_creation"
	StatusAwaitingGateway Status = "awaiting_gateway"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
	StatusDisputed        Status = "disputed"
)

type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

type Allocation struct {
	CampaignID    int64           `json:"campaign_id"`
	CampaignTitle string          `json:"campaign_title,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

type Donation struct {
	ID          int64  `gorm:"primaryKey"`
	DonationKey string `gorm:"column:donation_key;not null;uniqueIndex"`

	DonorID        *int64 `gorm:"column:donor_id"`
	DonorEmail     string `gorm:"column:donor_email;not null"`
	DonorFirstName string `gorm:"column:donor_first_name"`
	DonorLastName  string `gorm:"column:donor_last_name"`
	AddressLine1   string `gorm:"column:address_line1"`
	AddressLine2   string `gorm:"column:address_line2"`
	City           string `gorm:"column:city"`
	State          string `gorm:"column:state"`
	PostalCode     string `gorm:"column:postal_code"`
	Country        string `gorm:"column:country"`

	Allocations datatypes.JSONSlice[Allocation] `gorm:"column:allocations;type:jsonb;not null"`
	Amount      decimal.Decimal                 `gorm:"column:amount;type:numeric(20,6);not null"`
	Currency    string                          `gorm:"column:currency;size:3;not null"`
	Description string                          `gorm:"column:description"`

	Gateway              string  `gorm:"column:gateway;not null"`
	GatewayTransactionID *string `gorm:"column:gateway_transaction_id;uniqueIndex"`
	GatewayPaymentID     *string `gorm:"column:gateway_payment_id"`
	Status               Status  `gorm:"column:status;not null;index"`
	Mode                 Mode    `gorm:"column:mode;not null"`
	Locale               string  `gorm:"column:locale"`

	// Recurring donations open a gateway subscription; the customer id
	// links it back when the subscription object carries no reference.
	RecurringInterval *string `gorm:"column:recurring_interval"`
	PlanVariationID   string  `gorm:"column:plan_variation_id"`
	GatewayCustomerID *string `gorm:"column:gateway_customer_id;index"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Donation) TableName() string {
	return "donations"
}

func (d *Donation) TransactionID() string {
	if d.GatewayTransactionID == nil {
		return ""
	}
	return *d.GatewayTransactionID
}

func (d *Donation) PaymentID() string {
	if d.GatewayPaymentID == nil {
		return ""
	}
	return *d.GatewayPaymentID
}

func (d *Donation) IsRecurring() bool {
	return d.RecurringInterval != nil && *d.RecurringInterval != ""
}

func (d *Donation) Interval() string {
	if d.RecurringInterval == nil {
		return ""
	}
	return *d.RecurringInterval
}

func (d *Donation) CustomerID() string {
	if d.GatewayCustomerID == nil {
		return ""
	}
	return *d.GatewayCustomerID
}
