package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/recurring"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
)

type Applier interface {
	Apply(ctx context.Context, ev reconcile.NormalizedEvent) (*reconcile.Outcome, error)
}

type ProcessorConfig struct {
	InlineAttempts   uint64
	InlineDelay      time.Duration
	DeferredInterval time.Duration
}

// Result is what the webhook endpoint acknowledges. Deferred means the
// event waits in the retry queue.
type Result struct {
	Outcome  *reconcile.Outcome
	Deferred bool
}

type Processor struct {
	engine  Applier
	retries RetryRepositoryAPI
	cfg     ProcessorConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(engine Applier, retries RetryRepositoryAPI, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.InlineDelay <= 0 {
		cfg.InlineDelay = 200 * time.Millisecond
	}
	if cfg.DeferredInterval <= 0 {
		cfg.DeferredInterval = 30 * time.Second
	}
	return &Processor{
		engine:  engine,
		retries: retries,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Recoverable reports whether err means the target row may simply not be
// committed yet.
func Recoverable(err error) bool {
	return errors.Is(err, donation.ErrDonationNotFound) || errors.Is(err, recurring.ErrSubscriptionNotFound)
}

// Process applies d, retrying briefly while its donation is missing and
// then parking it in the retry queue.
func (p *Processor) Process(ctx context.Context, d *Delivery) (*Result, error) {
	var out *reconcile.Outcome
	backoff := retry.WithMaxRetries(p.cfg.InlineAttempts, retry.NewConstant(p.cfg.InlineDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		out, err = p.apply(ctx, d)
		if Recoverable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return &Result{Outcome: out}, nil
	}
	if !Recoverable(err) {
		return nil, err
	}

	next := p.now().Add(p.cfg.DeferredInterval)
	if serr := p.retries.Schedule(ctx, d.Event.ID, next, err.Error()); serr != nil {
		return nil, fmt.Errorf("schedule retry for %s: %w", d.Event.ID, serr)
	}
	p.logger.Warn("webhook target not found, retry scheduled",
		"gateway", d.Event.Gateway,
		"event_id", d.Event.ID,
		"next_attempt_at", next,
		"error", err)
	return &Result{Deferred: true}, nil
}

// Redeliver processes a stored event once more, without inline retries.
func (p *Processor) Redeliver(ctx context.Context, ev *gatewayevent.GatewayEvent, adapter gateway.Adapter) (*reconcile.Outcome, error) {
	env, err := adapter.ParseEnvelope(ev.Payload)
	if err != nil {
		return nil, err
	}
	return p.apply(ctx, &Delivery{Event: ev, Envelope: env, Adapter: adapter})
}

func (p *Processor) apply(ctx context.Context, d *Delivery) (*reconcile.Outcome, error) {
	n := d.Notification
	if n == nil {
		var err error
		if n, err = d.Adapter.Classify(d.Envelope); err != nil {
			return nil, err
		}
	}
	ev := reconcile.Normalize(d.Adapter.Name(), d.Event.ID, d.Envelope, n, d.Event.Payload)
	// Stored payloads may be re-encoded by the database; the hash of the
	// bytes actually received is authoritative.
	ev.PayloadHash = d.Event.PayloadHash
	return p.engine.Apply(ctx, ev)
}
