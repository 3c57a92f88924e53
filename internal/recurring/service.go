package recurring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/donation-gateway/internal"
	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/money"
)

type EntryView struct {
	Kind             subscriptionmodel.EntryKind `json:"kind"`
	RenewalSequence  *int64                      `json:"renewal_sequence,omitempty"`
	GatewayPaymentID string                      `json:"gateway_payment_id,omitempty"`
	Amount           *decimal.Decimal            `json:"amount,omitempty"`
	Currency         string                      `json:"currency,omitempty"`
	OccurredAt       string                      `json:"occurred_at"`
}

type SubscriptionView struct {
	ID                    int64                    `json:"id"`
	Gateway               string                   `json:"gateway"`
	GatewaySubscriptionID string                   `json:"gateway_subscription_id"`
	PlanVariationID       string                   `json:"plan_variation_id,omitempty"`
	DonationID            int64                    `json:"donation_id"`
	Status                subscriptionmodel.Status `json:"status"`
	LastRenewalAt         string                   `json:"last_renewal_at,omitempty"`
	Entries               []EntryView              `json:"entries"`
}

type ServiceAPI interface {
	Get(ctx context.Context, gatewaySubscriptionID string) (*SubscriptionView, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get returns a subscription together with its full history.
func (s *Service) Get(ctx context.Context, gatewaySubscriptionID string) (*SubscriptionView, error) {
	sub, err := s.repo.GetByGatewayID(ctx, gatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, internal.ErrSubscriptionNotFound
		}
		return nil, internal.NewInternalError("failed to load subscription", err)
	}

	entries, err := s.repo.ListEntries(ctx, sub.ID)
	if err != nil {
		s.logger.Error("failed to load subscription entries", "error", err, "subscription_id", sub.ID)
		return nil, internal.NewInternalError("failed to load subscription entries", err)
	}

	view := &SubscriptionView{
		ID:                    sub.ID,
		Gateway:               sub.Gateway,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		PlanVariationID:       sub.PlanVariationID,
		DonationID:            sub.DonationID,
		Status:                sub.Status,
		Entries:               make([]EntryView, 0, len(entries)),
	}
	if sub.LastRenewalAt != nil {
		view.LastRenewalAt = sub.LastRenewalAt.UTC().Format(time.RFC3339)
	}
	for _, e := range entries {
		view.Entries = append(view.Entries, toEntryView(e))
	}
	return view, nil
}

func toEntryView(e subscriptionmodel.Entry) EntryView {
	v := EntryView{
		Kind:            e.Kind,
		RenewalSequence: e.RenewalSequence,
		OccurredAt:      e.OccurredAt.UTC().Format(time.RFC3339),
	}
	if e.GatewayPaymentID != nil {
		v.GatewayPaymentID = *e.GatewayPaymentID
	}
	if e.AmountMinor != nil && e.Currency != nil {
		if amt, err := money.FromMinorUnits(*e.AmountMinor, *e.Currency); err == nil {
			v.Amount = &amt
			v.Currency = *e.Currency
		}
	}
	return v
}
