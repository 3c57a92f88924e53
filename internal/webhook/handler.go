package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/transport"
)

const defaultMaxBodyBytes = 1 << 20

type IngestorAPI interface {
	Ingest(ctx context.Context, gatewayName string, body []byte, headers http.Header) (*Delivery, error)
}

type ProcessorAPI interface {
	Process(ctx context.Context, d *Delivery) (*Result, error)
}

type Handler struct {
	*transport.BaseHandler
	Ingestor     IngestorAPI
	Processor    ProcessorAPI
	MaxBodyBytes int64
}

func NewHandler(baseHandler *transport.BaseHandler, ingestor IngestorAPI, processor ProcessorAPI, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		BaseHandler:  baseHandler,
		Ingestor:     ingestor,
		Processor:    processor,
		MaxBodyBytes: maxBodyBytes,
	}
}

type AckResponse struct {
	EventID  string              `json:"event_id"`
	Outcome  idempotency.Outcome `json:"outcome,omitempty"`
	Deferred bool                `json:"deferred,omitempty"`
}

// Receive handles POST /api/v1/webhooks/{gateway}. A 2xx means the
// delivery is stored; the outcome itself never turns into an error status.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.HandleError(w, r, internal.NewValidationError("Webhook payload too large", internal.ErrCodeMalformedPayload).WithCause(err))
			return
		}
		h.HandleError(w, r, internal.NewValidationError("Unable to read webhook payload", internal.ErrCodeMalformedPayload).WithCause(err))
		return
	}

	delivery, err := h.Ingestor.Ingest(r.Context(), name, body, r.Header)
	if err != nil {
		h.HandleError(w, r, toAppError(err))
		return
	}

	res, err := h.Processor.Process(r.Context(), delivery)
	if err != nil {
		h.HandleError(w, r, toAppError(err))
		return
	}

	ack := AckResponse{EventID: delivery.Event.ID, Deferred: res.Deferred}
	if res.Outcome != nil {
		ack.Outcome = res.Outcome.Result
	}
	h.WriteJSON(w, http.StatusOK, ack)
}

func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrSignatureMismatch):
		return internal.NewUnauthorizedError("Webhook signature mismatch", internal.ErrCodeSignatureMismatch).WithCause(err)
	case errors.Is(err, ErrMalformedPayload):
		return internal.NewValidationError("Malformed webhook payload", internal.ErrCodeMalformedPayload).WithCause(err)
	case errors.Is(err, gateway.ErrUnknownGateway):
		return internal.ErrUnknownGateway.WithCause(err)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return internal.NewNotFoundError("Payment gateway unavailable", internal.ErrCodeGatewayUnavailable).WithCause(err)
	}
	return internal.NewInternalError("Failed to process webhook", err)
}
