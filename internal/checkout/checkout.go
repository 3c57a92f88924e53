// Package checkout opens a hosted gateway checkout for a new donation and
// reconciles the gateway's synchronous answer through the engine.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/frahmantamala/donation-gateway/internal"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

// Status is the only donation state a donor ever sees.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type AdapterSource interface {
	Get(name string) (gateway.Adapter, error)
}

type DonationCreator interface {
	Create(ctx context.Context, dto donation.CreateDonationDTO, mode donationmodel.Mode) (*donationmodel.Donation, error)
}

type DonationReader interface {
	GetByID(ctx context.Context, id int64) (*donationmodel.Donation, error)
}

type Applier interface {
	Apply(ctx context.Context, ev reconcile.NormalizedEvent) (*reconcile.Outcome, error)
}

type Config struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	ReceiptURL string
	ReturnURL  string
	CancelURL  string
	// BaseURL is where gateways deliver webhooks, without the path.
	BaseURL string
	// Modes holds the configured mode per gateway; missing means sandbox.
	Modes map[string]donationmodel.Mode
}

type Result struct {
	DonationID  int64
	DonationKey string
	Status      Status
	RedirectURL string
	// Sandbox is set when the gateway opened a test-environment checkout.
	Sandbox bool
}

type ServiceAPI interface {
	Start(ctx context.Context, dto donation.CreateDonationDTO) (*Result, error)
}

type Service struct {
	adapters  AdapterSource
	donations DonationCreator
	reader    DonationReader
	engine    Applier
	cfg       Config
	logger    *slog.Logger
}

func NewService(adapters AdapterSource, donations DonationCreator, reader DonationReader, engine Applier, cfg Config, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Service{
		adapters:  adapters,
		donations: donations,
		reader:    reader,
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start creates the donation, asks the gateway for a hosted checkout and
// records checkout_created. A gateway that cannot be reached or refuses the
// request leaves the donation failed.
func (s *Service) Start(ctx context.Context, dto donation.CreateDonationDTO) (*Result, error) {
	adapter, err := s.adapters.Get(dto.Gateway)
	if err != nil {
		return nil, gatewayAppError(err)
	}

	d, err := s.donations.Create(ctx, dto, s.modeFor(adapter.Name()))
	if err != nil {
		return nil, err
	}
	log := logger.Or(ctx, s.logger).With("donation_id", d.ID, "donation_key", d.DonationKey, "gateway", adapter.Name())

	payload, err := gateway.Map(gateway.CheckoutSubject{
		Donation:       d,
		ReturnURL:      s.cfg.ReturnURL,
		CancelURL:      s.cfg.CancelURL,
		WebhookURL:     strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v1/webhooks/" + adapter.Name(),
		IdempotencyKey: d.DonationKey,
	}, adapter.FieldMap())
	if err != nil {
		log.Error("failed to map donation for gateway", "error", err)
		return nil, internal.NewInternalError("failed to build gateway request", err)
	}

	resp, err := s.createCheckout(ctx, adapter, payload)
	if err != nil {
		log.Error("gateway checkout failed", "error", err)
		s.markFailed(ctx, adapter.Name(), d, err)
		return &Result{DonationID: d.ID, DonationKey: d.DonationKey, Status: StatusFailed}, nil
	}

	resp = resp.WithReceiptURL(s.cfg.ReceiptURL)
	out, err := s.engine.Apply(ctx, reconcile.FromCheckout(adapter.Name(), d.DonationKey, resp))
	if err != nil {
		log.Error("failed to record checkout", "error", err)
		return nil, internal.NewInternalError("failed to record checkout", err)
	}
	log.Info("checkout created", "outcome", out.Result, "to_status", out.ToStatus)

	res := &Result{
		DonationID:  d.ID,
		DonationKey: d.DonationKey,
		Status:      s.currentStatus(ctx, d.ID, resp),
		Sandbox:     resp.IsSandbox(),
	}
	if resp.SandboxKnown() && res.Sandbox != (d.Mode == donationmodel.ModeSandbox) {
		log.Error("gateway checkout environment differs from configured mode",
			"mode", d.Mode,
			"sandbox_checkout", res.Sandbox)
	}
	if res.Status == StatusPending {
		if resp.RequiresRedirect() {
			res.RedirectURL, _ = resp.CheckoutURL()
		} else {
			res.RedirectURL = resp.RedirectTarget(strconv.FormatInt(d.ID, 10))
		}
	} else if res.Status == StatusCompleted {
		res.RedirectURL = resp.RedirectTarget(strconv.FormatInt(d.ID, 10))
	}
	return res, nil
}

// createCheckout calls the gateway with a bounded timeout per attempt and
// retries once on transient failures. The donation key doubles as the
// gateway idempotency key, so the retry cannot open a second checkout.
func (s *Service) createCheckout(ctx context.Context, adapter gateway.Adapter, payload map[string]any) (*gateway.Response, error) {
	var resp *gateway.Response
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		var err error
		resp, err = adapter.CreateCheckout(callCtx, payload)
		if err == nil {
			return nil
		}
		if gateway.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("transient gateway error", "gateway", adapter.Name(), "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return resp, err
}

// markFailed records the refused checkout against the donation. A failure
// here only costs the status; the donation row already exists.
func (s *Service) markFailed(ctx context.Context, gatewayName string, d *donationmodel.Donation, cause error) {
	ev := reconcile.NormalizedEvent{
		Gateway:     gatewayName,
		EventType:   "checkout.failed",
		Kind:        gateway.KindPaymentFailed,
		DeliveryID:  "checkout-failed:" + d.DonationKey,
		DonationKey: d.DonationKey,
		PayloadHash: reconcile.PayloadHash([]byte(cause.Error())),
		OccurredAt:  time.Now().UTC(),
	}
	if _, err := s.engine.Apply(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("failed to mark donation failed", "donation_id", d.ID, "error", err)
	}
}

func (s *Service) currentStatus(ctx context.Context, id int64, resp *gateway.Response) Status {
	if s.reader != nil {
		if d, err := s.reader.GetByID(ctx, id); err == nil {
			switch d.Status {
			case donationmodel.StatusCompleted:
				return StatusCompleted
			case donationmodel.StatusFailed:
				return StatusFailed
			case donationmodel.StatusCancelled:
				return StatusCancelled
			}
		}
	}
	switch resp.Status() {
	case gateway.StatusCompleted:
		return StatusCompleted
	case gateway.StatusFailed:
		return StatusFailed
	case gateway.StatusCancelled:
		return StatusCancelled
	}
	return StatusPending
}

func (s *Service) modeFor(name string) donationmodel.Mode {
	if m, ok := s.cfg.Modes[name]; ok {
		return m
	}
	return donationmodel.ModeSandbox
}

func gatewayAppError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnknownGateway):
		return internal.ErrUnknownGateway.WithCause(err)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return internal.NewValidationError("Payment gateway unavailable", internal.ErrCodeGatewayUnavailable).WithCause(err)
	}
	return internal.NewInternalError(fmt.Sprintf("failed to resolve gateway: %v", err), err)
}
