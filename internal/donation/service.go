package donation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/donation-gateway/internal"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
)

// LinkResolver builds human-facing transaction links for a gateway.
type LinkResolver interface {
	TransactionLink(gateway, transactionID string, sandbox bool) string
}

// HistoryReader lists the reconciliation outcomes recorded for a donation.
type HistoryReader interface {
	ListByDonation(ctx context.Context, donationID int64) ([]idempotency.ProcessedEvent, error)
}

type ServiceAPI interface {
	Create(ctx context.Context, dto CreateDonationDTO, mode donationmodel.Mode) (*donationmodel.Donation, error)
	Get(ctx context.Context, id int64) (*DonationView, error)
}

type Service struct {
	repo    RepositoryAPI
	links   LinkResolver
	history HistoryReader
	logger  *slog.Logger
}

func NewService(repo RepositoryAPI, links LinkResolver, history HistoryReader, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		links:   links,
		history: history,
		logger:  logger,
	}
}

// Create persists a new donation in pending_creation under a fresh donation key.
func (s *Service) Create(ctx context.Context, dto CreateDonationDTO, mode donationmodel.Mode) (*donationmodel.Donation, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	d := dto.ToModel(uuid.NewString(), mode)
	if err := CheckAllocations(d); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidAlloc)
	}

	if err := s.repo.Create(ctx, d); err != nil {
		s.logger.Error("failed to create donation", "error", err, "gateway", dto.Gateway)
		return nil, internal.NewInternalError("failed to create donation", err)
	}

	s.logger.Info("donation created",
		"donation_id", d.ID,
		"donation_key", d.DonationKey,
		"gateway", d.Gateway,
		"amount", d.Amount.String(),
		"currency", d.Currency)

	return d, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*DonationView, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDonationNotFound) {
			return nil, internal.ErrDonationNotFound
		}
		return nil, internal.NewInternalError("failed to load donation", err)
	}

	view := s.toView(d)
	if s.history != nil {
		recs, err := s.history.ListByDonation(ctx, d.ID)
		if err != nil {
			s.logger.Error("failed to load donation history", "error", err, "donation_id", d.ID)
			return nil, internal.NewInternalError("failed to load donation history", err)
		}
		view.History = make([]OutcomeView, 0, len(recs))
		for _, rec := range recs {
			view.History = append(view.History, OutcomeView{
				EventType:   rec.EventType,
				Outcome:     string(rec.Outcome),
				FromStatus:  rec.FromStatus,
				ToStatus:    rec.ToStatus,
				Reason:      rec.Reason,
				ProcessedAt: rec.ProcessedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	return view, nil
}

func (s *Service) toView(d *donationmodel.Donation) *DonationView {
	view := &DonationView{
		ID:                   d.ID,
		DonationKey:          d.DonationKey,
		Status:               d.Status,
		Amount:               d.Amount,
		Currency:             d.Currency,
		Gateway:              d.Gateway,
		GatewayTransactionID: d.TransactionID(),
		GatewayPaymentID:     d.PaymentID(),
		Mode:                 d.Mode,
		RecurringInterval:    d.Interval(),
		DonorEmail:           d.DonorEmail,
		Allocations:          d.Allocations,
		CreatedAt:            d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	ref := view.GatewayPaymentID
	if ref == "" {
		ref = view.GatewayTransactionID
	}
	if s.links != nil && ref != "" {
		view.TransactionLink = s.links.TransactionLink(d.Gateway, ref, d.Mode == donationmodel.ModeSandbox)
	}
	return view
}

// NotFound wraps ErrDonationNotFound with the lookup that missed.
func NotFound(by, value string) error {
	return fmt.Errorf("%w: %s=%s", ErrDonationNotFound, by, value)
}
