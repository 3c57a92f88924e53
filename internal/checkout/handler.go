package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

type Response struct {
	DonationID  int64  `json:"donation_id"`
	Status      Status `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Sandbox     bool   `json:"sandbox,omitempty"`
}

// Start handles POST /api/v1/checkout.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req donation.CreateDonationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, r, internal.NewValidationError("Invalid JSON request body", internal.ErrCodeValidationFailed).WithCause(err))
		return
	}

	res, err := h.Service.Start(r.Context(), req)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Status == StatusFailed {
		status = http.StatusBadGateway
	}
	h.WriteJSON(w, status, Response{
		DonationID:  res.DonationID,
		Status:      res.Status,
		RedirectURL: res.RedirectURL,
		Sandbox:     res.Sandbox,
	})
}
