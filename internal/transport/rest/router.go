package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/donation-gateway/internal/transport/middleware"
	"github.com/frahmantamala/donation-gateway/internal/transport/swagger"
)

// Handlers groups everything the router mounts. Nil handlers leave their
// routes unregistered.
type Handlers struct {
	Health       *HealthHandler
	Webhook      http.HandlerFunc
	Checkout     http.HandlerFunc
	Donation     http.HandlerFunc
	Subscription http.HandlerFunc
	Gateways     http.HandlerFunc
	// RequireOperator guards the operator routes.
	RequireOperator func(http.Handler) http.Handler
}

func RegisterAllRoutes(router chi.Router, h Handlers, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))

	router.Method(http.MethodGet, "/openapi.yml", swagger.SpecHandler())
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		if h.Webhook != nil {
			r.Post("/webhooks/{gateway}", h.Webhook)
		}
		if h.Checkout != nil {
			r.Post("/checkout", h.Checkout)
		}

		if h.RequireOperator == nil {
			return
		}
		r.Group(func(op chi.Router) {
			op.Use(h.RequireOperator)

			if h.Donation != nil {
				op.Get("/donations/{id}", h.Donation)
			}
			if h.Subscription != nil {
				op.Get("/subscriptions/{gatewayID}", h.Subscription)
			}
			if h.Gateways != nil {
				op.Get("/gateways", h.Gateways)
			}
		})
	})
}
