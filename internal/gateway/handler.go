package gateway

import (
	"net/http"

	"github.com/frahmantamala/donation-gateway/internal/transport"
)

type CatalogAPI interface {
	Offerable() []Offer
	Capabilities() map[string]Capability
}

type Handler struct {
	*transport.BaseHandler
	Catalog CatalogAPI
}

func NewHandler(baseHandler *transport.BaseHandler, catalog CatalogAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Catalog:     catalog,
	}
}

type CatalogResponse struct {
	Offerable    []Offer               `json:"offerable"`
	Capabilities map[string]Capability `json:"capabilities"`
}

// List handles GET /api/v1/gateways.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, CatalogResponse{
		Offerable:    h.Catalog.Offerable(),
		Capabilities: h.Catalog.Capabilities(),
	})
}
