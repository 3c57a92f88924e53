package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/core/events"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/money"
	"github.com/frahmantamala/donation-gateway/internal/recurring"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

// ProcessedStore is the idempotency ledger.
type ProcessedStore interface {
	// Claim inserts rec unless its key is already recorded and reports
	// whether this call won.
	Claim(ctx context.Context, rec *idempotency.ProcessedEvent) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.ProcessedEvent, error)
	Finalize(ctx context.Context, rec *idempotency.ProcessedEvent) error
}

// Stores are the repositories bound to one unit of work.
type Stores struct {
	Donations     donation.RepositoryAPI
	Subscriptions recurring.RepositoryAPI
	Processed     ProcessedStore
}

// UnitOfWork runs fn atomically. Returning an error rolls everything back,
// including the idempotency claim.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Outcome is what happened to one event. Duplicate is set when the result
// was recorded by an earlier delivery.
type Outcome struct {
	IdempotencyKey string
	Result         idempotency.Outcome
	DonationID     *int64
	SubscriptionID *int64
	FromStatus     string
	ToStatus       string
	Reason         string
	Duplicate      bool
}

func (o *Outcome) Applied() bool {
	return o.Result == idempotency.OutcomeApplied
}

var donationEvents = map[gateway.EventKind]donation.Event{
	gateway.KindCheckoutCreated:  donation.EventCheckoutCreated,
	gateway.KindPaymentCompleted: donation.EventPaymentCompleted,
	gateway.KindPaymentFailed:    donation.EventPaymentFailed,
	gateway.KindPaymentCancelled: donation.EventPaymentCancelled,
	gateway.KindRefund:           donation.EventRefund,
	gateway.KindDispute:          donation.EventDispute,
}

var entryKinds = map[gateway.EventKind]subscriptionmodel.EntryKind{
	gateway.KindSubscriptionCreated:   subscriptionmodel.EntryCreated,
	gateway.KindSubscriptionRenewed:   subscriptionmodel.EntryRenewed,
	gateway.KindSubscriptionPaused:    subscriptionmodel.EntryPaused,
	gateway.KindSubscriptionResumed:   subscriptionmodel.EntryResumed,
	gateway.KindSubscriptionCancelled: subscriptionmodel.EntryCancelled,
	gateway.KindSubscriptionExpired:   subscriptionmodel.EntryExpired,
}

// Engine is the single place donation and subscription state changes.
type Engine struct {
	uow    UnitOfWork
	bus    Publisher
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(uow UnitOfWork, bus Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		uow:    uow,
		bus:    bus,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply reconciles ev. Invalid transitions and duplicates are outcomes,
// not errors. ErrDonationNotFound and ErrSubscriptionNotFound leave no
// trace so the caller can retry.
func (e *Engine) Apply(ctx context.Context, ev NormalizedEvent) (*Outcome, error) {
	key := ev.IdempotencyKey()
	unlock := e.locks.Lock(key)
	defer unlock()

	log := logger.Or(ctx, e.logger).With("idempotency_key", key, "gateway", ev.Gateway, "kind", ev.Kind)

	var (
		out    *Outcome
		notify events.Event
	)
	err := e.uow.Do(ctx, func(ctx context.Context, s Stores) error {
		out, notify = nil, nil

		rec := e.newRecord(key, ev)
		claimed, err := s.Processed.Claim(ctx, rec)
		if err != nil {
			return fmt.Errorf("claim %s: %w", key, err)
		}
		if !claimed {
			prior, err := s.Processed.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("load recorded outcome %s: %w", key, err)
			}
			out = toOutcome(prior, true)
			return nil
		}

		switch {
		case ev.Kind.IsSubscription():
			notify, err = e.applySubscription(ctx, s, ev, rec)
		case donationEvents[ev.Kind] != "":
			notify, err = e.applyDonation(ctx, s, ev, rec)
		default:
			ignore(rec, "event type not reconciled")
		}
		if err != nil {
			return err
		}

		if err := s.Processed.Finalize(ctx, rec); err != nil {
			return fmt.Errorf("finalize %s: %w", key, err)
		}
		out = toOutcome(rec, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Duplicate {
		log.Info("duplicate delivery, returning recorded outcome", "outcome", out.Result)
		return out, nil
	}

	log.Info("event reconciled",
		"outcome", out.Result,
		"from_status", out.FromStatus,
		"to_status", out.ToStatus,
		"reason", out.Reason)

	if notify != nil && e.bus != nil {
		if err := e.bus.Publish(context.WithoutCancel(ctx), notify); err != nil {
			log.Warn("failed to publish notification", "error", err, "event_type", notify.EventType())
		}
	}
	return out, nil
}

func (e *Engine) newRecord(key string, ev NormalizedEvent) *idempotency.ProcessedEvent {
	eventType := ev.EventType
	if eventType == "" {
		eventType = string(ev.Kind)
	}
	rec := &idempotency.ProcessedEvent{
		IdempotencyKey: key,
		Gateway:        ev.Gateway,
		EventType:      eventType,
		Outcome:        idempotency.OutcomePending,
		Detail:         datatypes.JSONMap{"kind": string(ev.Kind)},
		ProcessedAt:    e.now(),
	}
	if ev.GatewayEventID != "" {
		id := ev.GatewayEventID
		rec.GatewayEventID = &id
	}
	return rec
}

func (e *Engine) applyDonation(ctx context.Context, s Stores, ev NormalizedEvent, rec *idempotency.ProcessedEvent) (events.Event, error) {
	d, err := resolveDonation(ctx, s.Donations, ev)
	if err != nil {
		return nil, err
	}
	rec.DonationID = &d.ID

	from, err := donation.Apply(d, donationEvents[ev.Kind])
	rec.FromStatus = string(from)
	if errors.Is(err, donation.ErrInvalidTransition) {
		reject(rec, string(from), err)
		// The status stays, but ids carried by a late checkout or payment
		// event are still needed to resolve later refunds and disputes.
		if linked, err := e.attachIDs(ctx, s, d, ev); err != nil || !linked {
			return nil, err
		}
		rec.Detail["ids_attached"] = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := donation.AttachGatewayIDs(d, ev.TransactionID, ev.PaymentID); err != nil {
		if errors.Is(err, donation.ErrGatewayIDConflict) {
			reject(rec, string(from), err)
			return nil, nil
		}
		return nil, err
	}
	donation.AttachCustomer(d, ev.CustomerID)

	if ev.Kind == gateway.KindPaymentCompleted && ev.Amount != nil {
		if expected, ok := expectedAmount(d); ok && *ev.Amount != expected {
			rec.Detail["amount_mismatch"] = map[string]any{
				"expected": expected.Minor,
				"received": ev.Amount.Minor,
				"currency": ev.Amount.Currency,
			}
			logger.Or(ctx, e.logger).Warn("gateway amount differs from donation",
				"donation_id", d.ID,
				"expected_minor", expected.Minor,
				"expected_currency", expected.Currency,
				"received_minor", ev.Amount.Minor,
				"received_currency", ev.Amount.Currency)
		}
	}

	if err := s.Donations.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save donation %d: %w", d.ID, err)
	}

	rec.Outcome = idempotency.OutcomeApplied
	rec.ToStatus = string(d.Status)
	return events.NewDonationStatusChangedEvent(d.ID, d.DonationKey, d.Gateway, string(from), string(d.Status), rec.IdempotencyKey), nil
}

// attachIDs stores any gateway ids ev adds to d without touching its status
// and reports whether d was saved.
func (e *Engine) attachIDs(ctx context.Context, s Stores, d *donationmodel.Donation, ev NormalizedEvent) (bool, error) {
	txn, payment, customer := d.TransactionID(), d.PaymentID(), d.CustomerID()
	if err := donation.AttachGatewayIDs(d, ev.TransactionID, ev.PaymentID); err != nil {
		if errors.Is(err, donation.ErrGatewayIDConflict) {
			return false, nil
		}
		return false, err
	}
	donation.AttachCustomer(d, ev.CustomerID)
	if d.TransactionID() == txn && d.PaymentID() == payment && d.CustomerID() == customer {
		return false, nil
	}
	if err := s.Donations.Save(ctx, d); err != nil {
		return false, fmt.Errorf("save donation %d: %w", d.ID, err)
	}
	logger.Or(ctx, e.logger).Info("gateway ids attached to donation after rejected transition",
		"donation_id", d.ID,
		"status", d.Status,
		"gateway_transaction_id", d.TransactionID())
	return true, nil
}

func (e *Engine) applySubscription(ctx context.Context, s Stores, ev NormalizedEvent, rec *idempotency.ProcessedEvent) (events.Event, error) {
	if ev.SubscriptionID == "" {
		ignore(rec, "no subscription id")
		return nil, nil
	}

	ledger := recurring.NewLedger(s.Subscriptions)
	sub, err := findSubscription(ctx, s.Subscriptions, ev.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if sub == nil {
		switch {
		case ev.Kind == gateway.KindSubscriptionCreated && !ev.hasDonationRef() && ev.CustomerID == "":
			// Linked later by the first renewal, which carries the order.
			ignore(rec, "subscription has no originating donation reference")
			return nil, nil
		case ev.Kind != gateway.KindSubscriptionCreated && ev.Kind != gateway.KindSubscriptionRenewed,
			!ev.hasDonationRef() && ev.CustomerID == "":
			return nil, recurring.NotFound(ev.SubscriptionID)
		}

		d, err := subscriptionDonation(ctx, s.Donations, ev)
		if err != nil {
			return nil, err
		}
		// The donation row lock serializes openers; one that committed
		// while this one waited is visible now.
		if sub, err = findSubscription(ctx, s.Subscriptions, ev.SubscriptionID); err != nil {
			return nil, err
		}
		if sub == nil {
			sub, err = ledger.Open(ctx, recurring.Opening{
				Gateway:               ev.Gateway,
				GatewaySubscriptionID: ev.SubscriptionID,
				PlanVariationID:       ev.PlanVariationID,
				DonationID:            d.ID,
				Status:                ev.SubscriptionStatus,
				OccurredAt:            ev.OccurredAt,
			})
			if err != nil {
				return nil, err
			}
			rec.SubscriptionID = &sub.ID
			rec.DonationID = &sub.DonationID

			if ev.Kind == gateway.KindSubscriptionCreated {
				rec.Outcome = idempotency.OutcomeApplied
				rec.ToStatus = string(sub.Status)
				return subscriptionEvent(sub, subscriptionmodel.EntryCreated, rec), nil
			}
		}
	}

	rec.SubscriptionID = &sub.ID
	rec.DonationID = &sub.DonationID
	if ev.Kind == gateway.KindSubscriptionCreated {
		rec.FromStatus = string(sub.Status)
		rec.ToStatus = string(sub.Status)
		ignore(rec, "subscription already recorded")
		return nil, nil
	}

	kind := entryKinds[ev.Kind]
	from, err := ledger.Record(ctx, sub, recurring.Change{
		Kind:            kind,
		RenewalSequence: ev.RenewalSequence,
		PaymentID:       ev.PaymentID,
		Amount:          ev.Amount,
		OccurredAt:      ev.OccurredAt,
	})
	rec.FromStatus = string(from)
	switch {
	case errors.Is(err, recurring.ErrNoChange):
		rec.ToStatus = string(from)
		ignore(rec, err.Error())
		return nil, nil
	case errors.Is(err, recurring.ErrInvalidTransition):
		reject(rec, string(from), err)
		return nil, nil
	case err != nil:
		return nil, err
	}

	rec.Outcome = idempotency.OutcomeApplied
	rec.ToStatus = string(sub.Status)
	return subscriptionEvent(sub, kind, rec), nil
}

func findSubscription(ctx context.Context, repo recurring.RepositoryAPI, gatewaySubscriptionID string) (*subscriptionmodel.Subscription, error) {
	sub, err := repo.GetByGatewayID(ctx, gatewaySubscriptionID)
	if errors.Is(err, recurring.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

// subscriptionDonation finds the donation a new subscription belongs to.
// Gateways that report subscriptions without any order or key reference
// are matched on the paying customer instead.
func subscriptionDonation(ctx context.Context, repo donation.RepositoryAPI, ev NormalizedEvent) (*donationmodel.Donation, error) {
	if ev.hasDonationRef() {
		d, err := resolveDonation(ctx, repo, ev)
		if err == nil || !errors.Is(err, donation.ErrDonationNotFound) || ev.CustomerID == "" {
			return d, err
		}
	}
	return repo.GetUnlinkedRecurring(ctx, ev.Gateway, ev.CustomerID, ev.PlanVariationID)
}

// resolveDonation looks the donation up by transaction id, then payment
// id, then donation key. A key match from another gateway is a miss.
func resolveDonation(ctx context.Context, repo donation.RepositoryAPI, ev NormalizedEvent) (*donationmodel.Donation, error) {
	if ev.TransactionID != "" {
		d, err := repo.GetByTransactionID(ctx, ev.Gateway, ev.TransactionID)
		if err == nil || !errors.Is(err, donation.ErrDonationNotFound) {
			return d, err
		}
	}
	if ev.PaymentID != "" {
		d, err := repo.GetByPaymentID(ctx, ev.Gateway, ev.PaymentID)
		if err == nil || !errors.Is(err, donation.ErrDonationNotFound) {
			return d, err
		}
	}
	if ev.DonationKey != "" {
		d, err := repo.GetByKey(ctx, ev.DonationKey)
		if err == nil && d.Gateway == ev.Gateway {
			return d, nil
		}
		if err != nil && !errors.Is(err, donation.ErrDonationNotFound) {
			return nil, err
		}
	}
	return nil, donation.NotFound("event", fmt.Sprintf("txn=%q payment=%q key=%q", ev.TransactionID, ev.PaymentID, ev.DonationKey))
}

func expectedAmount(d *donationmodel.Donation) (money.Amount, bool) {
	code, err := money.Normalize(d.Currency)
	if err != nil {
		return money.Amount{}, false
	}
	minor, err := money.ToMinorUnits(d.Amount, code)
	if err != nil {
		return money.Amount{}, false
	}
	return money.Amount{Minor: minor, Currency: code}, true
}

func subscriptionEvent(sub *subscriptionmodel.Subscription, kind subscriptionmodel.EntryKind, rec *idempotency.ProcessedEvent) events.Event {
	return events.NewSubscriptionChangedEvent(sub.ID, sub.GatewaySubscriptionID, sub.DonationID, string(kind), string(sub.Status), rec.IdempotencyKey)
}

func ignore(rec *idempotency.ProcessedEvent, reason string) {
	rec.Outcome = idempotency.OutcomeIgnored
	rec.Reason = reason
}

func reject(rec *idempotency.ProcessedEvent, status string, err error) {
	rec.Outcome = idempotency.OutcomeRejected
	rec.ToStatus = status
	rec.Reason = err.Error()
}

func toOutcome(rec *idempotency.ProcessedEvent, duplicate bool) *Outcome {
	return &Outcome{
		IdempotencyKey: rec.IdempotencyKey,
		Result:         rec.Outcome,
		DonationID:     rec.DonationID,
		SubscriptionID: rec.SubscriptionID,
		FromStatus:     rec.FromStatus,
		ToStatus:       rec.ToStatus,
		Reason:         rec.Reason,
		Duplicate:      duplicate,
	}
}
