package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

type RetryJob struct {
	Retry gatewayevent.EventRetry
	done  func()
}

type Worker struct {
	ID         int
	WorkerPool chan chan RetryJob
	JobChannel chan RetryJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan RetryJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan RetryJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, RetryJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("retry worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("retry worker processing job", "worker_id", w.ID, "event_id", job.Retry.GatewayEventID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("retry worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type WorkerConfig struct {
	Workers     int
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// RetryWorker re-drives events parked by the Processor until they apply
// or run out of attempts.
type RetryWorker struct {
	processor *Processor
	events    RepositoryAPI
	retries   RetryRepositoryAPI
	adapters  AdapterSource
	cfg       WorkerConfig
	logger    *slog.Logger
	now       func() time.Time

	jobQueue   chan RetryJob
	workerPool chan chan RetryJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewRetryWorker(processor *Processor, events RepositoryAPI, retries RetryRepositoryAPI, adapters AdapterSource, cfg WorkerConfig, logger *slog.Logger) *RetryWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &RetryWorker{
		processor:  processor,
		events:     events,
		retries:    retries,
		adapters:   adapters,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		jobQueue:   make(chan RetryJob, cfg.BatchSize),
		workerPool: make(chan chan RetryJob, cfg.Workers),
	}
}

// Start launches the worker pool. It is safe to call more than once.
func (w *RetryWorker) Start(ctx context.Context) {
	w.once.Do(func() {
		w.ctx, w.cancel = context.WithCancel(ctx)
		for i := 0; i < w.cfg.Workers; i++ {
			NewWorker(i, w.workerPool, w.logger).Start(w.ctx, &w.wg, w.process)
		}

		w.wg.Add(1)
		go w.dispatch()

		w.logger.Info("retry worker pool started",
			"workers", w.cfg.Workers,
			"batch_size", w.cfg.BatchSize,
			"interval", w.cfg.Interval)
	})
}

func (w *RetryWorker) dispatch() {
	defer w.wg.Done()

	for {
		select {
		case job := <-w.jobQueue:
			select {
			case jobChannel := <-w.workerPool:
				select {
				case jobChannel <- job:
				case <-w.ctx.Done():
					job.done()
					return
				}
			case <-w.ctx.Done():
				job.done()
				return
			}
		case <-w.ctx.Done():
			w.logger.Info("retry dispatcher shutting down")
			return
		}
	}
}

// Run polls for due retries every interval until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	w.Start(ctx)
	defer w.Shutdown()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("retry poll failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce processes one batch of due retries and waits for it to finish.
// Each retry is leased by pushing its next attempt out before dispatch so
// a slow batch is not picked up twice.
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	w.Start(ctx)

	due, err := w.retries.Due(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var batch sync.WaitGroup
	dispatched := 0
	for _, r := range due {
		r.NextAttemptAt = w.now().Add(w.cfg.Interval)
		if err := w.retries.Save(ctx, &r); err != nil {
			w.logger.Error("failed to lease retry", "event_id", r.GatewayEventID, "error", err)
			continue
		}

		batch.Add(1)
		select {
		case w.jobQueue <- RetryJob{Retry: r, done: batch.Done}:
			dispatched++
		case <-w.ctx.Done():
			batch.Done()
			return dispatched, w.ctx.Err()
		}
	}

	finished := make(chan struct{})
	go func() {
		batch.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return dispatched, nil
	case <-w.ctx.Done():
		return dispatched, w.ctx.Err()
	}
}

func (w *RetryWorker) Shutdown() {
	if w.cancel == nil {
		return
	}
	w.logger.Info("shutting down retry worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("retry worker shutdown complete")
}

func (w *RetryWorker) process(ctx context.Context, job RetryJob) {
	defer job.done()

	r := job.Retry
	r.Attempts++
	log := w.logger.With("event_id", r.GatewayEventID, "attempt", r.Attempts)

	err := w.redeliver(ctx, r.GatewayEventID)
	switch {
	case err == nil:
		r.State = gatewayevent.RetryDone
		r.LastError = ""
		log.Info("deferred webhook applied")
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, gateway.ErrUnknownGateway):
		r.State = gatewayevent.RetryAbandoned
		r.LastError = err.Error()
		log.Error("deferred webhook abandoned", "error", err)
	case r.Attempts >= w.cfg.MaxAttempts:
		r.State = gatewayevent.RetryAbandoned
		r.LastError = err.Error()
		log.Error("deferred webhook abandoned after max attempts", "error", err, "max_attempts", w.cfg.MaxAttempts)
	default:
		r.LastError = err.Error()
		r.NextAttemptAt = w.now().Add(w.cfg.Interval * time.Duration(r.Attempts))
		log.Warn("deferred webhook still not applicable", "error", err, "next_attempt_at", r.NextAttemptAt)
	}

	if err := w.retries.Save(ctx, &r); err != nil {
		log.Error("failed to save retry state", "error", err)
	}
}

func (w *RetryWorker) redeliver(ctx context.Context, eventID string) error {
	ev, err := w.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	adapter, err := w.adapters.Get(ev.Gateway)
	if err != nil {
		return err
	}
	_, err = w.processor.Redeliver(ctx, ev, adapter)
	return err
}
