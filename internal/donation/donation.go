package donation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
)

var (
	ErrInvalidTransition   = errors.New("invalid donation status transition")
	ErrDonationNotFound    = errors.New("donation not found")
	ErrGatewayIDConflict   = errors.New("gateway transaction id already set")
	ErrAllocationMismatch  = errors.New("allocations do not sum to total amount")
	ErrAllocationsRequired = errors.New("at least one campaign allocation is required")
)

// Event is a transition trigger understood by the donation state machine.
type Event string

const (
	EventCheckoutCreated  Event = "checkout_created"
	EventPaymentCompleted Event = "payment_completed"
	EventPaymentFailed    Event = "payment_failed"
	EventPaymentCancelled Event = "payment_cancelled"
	EventRefund           Event = "refund"
	EventDispute          Event = "dispute"
)

// Payment outcomes are accepted from pending_creation because a webhook can
// land before the checkout response has been applied.
var transitions = map[donationmodel.Status]map[Event]donationmodel.Status{
	donationmodel.StatusPendingCreation: {
		EventCheckoutCreated:  donationmodel.StatusAwaitingGateway,
		EventPaymentCompleted: donationmodel.StatusCompleted,
		EventPaymentFailed:    donationmodel.StatusFailed,
		EventPaymentCancelled: donationmodel.StatusCancelled,
	},
	donationmodel.StatusAwaitingGateway: {
		EventPaymentCompleted: donationmodel.StatusCompleted,
		EventPaymentFailed:    donationmodel.StatusFailed,
		EventPaymentCancelled: donationmodel.StatusCancelled,
	},
	donationmodel.StatusCompleted: {
		EventRefund:  donationmodel.StatusRefunded,
		EventDispute: donationmodel.StatusDisputed,
	},
}

// Next returns the status reached by applying ev in state from.
func Next(from donationmodel.Status, ev Event) (donationmodel.Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// Apply moves d to the next status for ev and returns the previous one.
func Apply(d *donationmodel.Donation, ev Event) (donationmodel.Status, error) {
	from := d.Status
	to, err := Next(from, ev)
	if err != nil {
		return from, err
	}
	d.Status = to
	return from, nil
}

// AttachGatewayIDs records the gateway identifiers. A transaction id, once
// set, cannot change; the payment id may be filled or refreshed.
func AttachGatewayIDs(d *donationmodel.Donation, transactionID, paymentID string) error {
	if transactionID != "" {
		switch {
		case d.GatewayTransactionID == nil:
			id := transactionID
			d.GatewayTransactionID = &id
		case *d.GatewayTransactionID != transactionID:
			return fmt.Errorf("%w: have %s, got %s", ErrGatewayIDConflict, *d.GatewayTransactionID, transactionID)
		}
	}
	if paymentID != "" {
		id := paymentID
		d.GatewayPaymentID = &id
	}
	return nil
}

// AttachCustomer records the gateway customer that paid a recurring
// donation. It reports whether anything changed; one-off donations and an
// already recorded customer are left alone.
func AttachCustomer(d *donationmodel.Donation, customerID string) bool {
	if customerID == "" || !d.IsRecurring() || d.GatewayCustomerID != nil {
		return false
	}
	id := customerID
	d.GatewayCustomerID = &id
	return true
}

// CheckAllocations enforces that the campaign allocations sum to the total.
func CheckAllocations(d *donationmodel.Donation) error {
	if len(d.Allocations) == 0 {
		return ErrAllocationsRequired
	}
	sum := decimal.Zero
	for _, a := range d.Allocations {
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(d.Amount) {
		return fmt.Errorf("%w: %s != %s", ErrAllocationMismatch, sum, d.Amount)
	}
	return nil
}

type RepositoryAPI interface {
	Create(ctx context.Context, d *donationmodel.Donation) error
	GetByID(ctx context.Context, id int64) (*donationmodel.Donation, error)
	GetByKey(ctx context.Context, key string) (*donationmodel.Donation, error)
	GetByTransactionID(ctx context.Context, gateway, transactionID string) (*donationmodel.Donation, error)
	GetByPaymentID(ctx context.Context, gateway, paymentID string) (*donationmodel.Donation, error)
	GetUnlinkedRecurring(ctx context.Context, gateway, customerID, planVariationID string) (*donationmodel.Donation, error)
	Save(ctx context.Context, d *donationmodel.Donation) error
}
