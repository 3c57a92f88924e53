package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/money"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidTransition    = errors.New("invalid subscription lifecycle transition")
	ErrNoChange             = errors.New("subscription already in requested state")
)

// A renewal may be billed while paused when the resume notification is
// still in flight, so it is accepted without changing status.
var lifecycle = map[subscriptionmodel.Status]map[subscriptionmodel.EntryKind]subscriptionmodel.Status{
	subscriptionmodel.StatusActive: {
		subscriptionmodel.EntryRenewed:   subscriptionmodel.StatusActive,
		subscriptionmodel.EntryPaused:    subscriptionmodel.StatusPaused,
		subscriptionmodel.EntryCancelled: subscriptionmodel.StatusCancelled,
		subscriptionmodel.EntryExpired:   subscriptionmodel.StatusExpired,
	},
	subscriptionmodel.StatusPaused: {
		subscriptionmodel.EntryRenewed:   subscriptionmodel.StatusPaused,
		subscriptionmodel.EntryResumed:   subscriptionmodel.StatusActive,
		subscriptionmodel.EntryCancelled: subscriptionmodel.StatusCancelled,
		subscriptionmodel.EntryExpired:   subscriptionmodel.StatusExpired,
	},
}

// NextStatus returns the status reached by recording kind on a subscription
// in state from. Cancelled and expired subscriptions accept nothing.
func NextStatus(from subscriptionmodel.Status, kind subscriptionmodel.EntryKind) (subscriptionmodel.Status, error) {
	if to, ok := lifecycle[from][kind]; ok {
		return to, nil
	}
	if (from == subscriptionmodel.StatusActive && kind == subscriptionmodel.EntryResumed) ||
		(from == subscriptionmodel.StatusPaused && kind == subscriptionmodel.EntryPaused) {
		return from, ErrNoChange
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, kind, from)
}

type RepositoryAPI interface {
	Create(ctx context.Context, s *subscriptionmodel.Subscription) error
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*subscriptionmodel.Subscription, error)
	Save(ctx context.Context, s *subscriptionmodel.Subscription) error
	AppendEntry(ctx context.Context, e *subscriptionmodel.Entry) error
	ListEntries(ctx context.Context, subscriptionID int64) ([]subscriptionmodel.Entry, error)
}

// Opening describes a subscription seen for the first time.
type Opening struct {
	Gateway               string
	GatewaySubscriptionID string
	PlanVariationID       string
	DonationID            int64
	Status                subscriptionmodel.Status
	OccurredAt            time.Time
}

// Change is one lifecycle notification for an existing subscription.
type Change struct {
	Kind            subscriptionmodel.EntryKind
	RenewalSequence *int64
	PaymentID       string
	Amount          *money.Amount
	OccurredAt      time.Time
}

// Ledger writes subscriptions and their append-only history. It runs on
// whatever repository it is given, so the reconciliation engine hands it
// one bound to its transaction.
type Ledger struct {
	repo RepositoryAPI
}

func NewLedger(repo RepositoryAPI) *Ledger {
	return &Ledger{repo: repo}
}

// Open creates the subscription and its "created" entry.
func (l *Ledger) Open(ctx context.Context, o Opening) (*subscriptionmodel.Subscription, error) {
	status := o.Status
	if status == "" {
		status = subscriptionmodel.StatusActive
	}
	sub := &subscriptionmodel.Subscription{
		Gateway:               o.Gateway,
		GatewaySubscriptionID: o.GatewaySubscriptionID,
		PlanVariationID:       o.PlanVariationID,
		DonationID:            o.DonationID,
		Status:                status,
	}
	if err := l.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", o.GatewaySubscriptionID, err)
	}
	entry := &subscriptionmodel.Entry{
		SubscriptionID: sub.ID,
		Kind:           subscriptionmodel.EntryCreated,
		OccurredAt:     occurred(o.OccurredAt),
	}
	if err := l.repo.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append created entry: %w", err)
	}
	return sub, nil
}

// Record applies ch to sub and appends it to the history. It returns the
// status sub had before the change.
func (l *Ledger) Record(ctx context.Context, sub *subscriptionmodel.Subscription, ch Change) (subscriptionmodel.Status, error) {
	from := sub.Status
	to, err := NextStatus(from, ch.Kind)
	if err != nil {
		return from, err
	}

	at := occurred(ch.OccurredAt)
	sub.Status = to
	if ch.Kind == subscriptionmodel.EntryRenewed {
		sub.LastRenewalAt = &at
	}
	if err := l.repo.Save(ctx, sub); err != nil {
		return from, fmt.Errorf("save subscription %s: %w", sub.GatewaySubscriptionID, err)
	}

	entry := &subscriptionmodel.Entry{
		SubscriptionID:  sub.ID,
		Kind:            ch.Kind,
		RenewalSequence: ch.RenewalSequence,
		OccurredAt:      at,
	}
	if ch.PaymentID != "" {
		id := ch.PaymentID
		entry.GatewayPaymentID = &id
	}
	if ch.Amount != nil {
		minor, cur := ch.Amount.Minor, ch.Amount.Currency
		entry.AmountMinor = &minor
		entry.Currency = &cur
	}
	if err := l.repo.AppendEntry(ctx, entry); err != nil {
		return from, fmt.Errorf("append %s entry: %w", ch.Kind, err)
	}
	return from, nil
}

func occurred(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// NotFound wraps ErrSubscriptionNotFound with the id that missed.
func NotFound(gatewaySubscriptionID string) error {
	return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, gatewaySubscriptionID)
}
