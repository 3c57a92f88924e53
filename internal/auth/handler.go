package auth

import (
	"errors"
	"net/http"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/transport"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type Handler struct {
	*transport.BaseHandler
	Tokens TokenValidator
}

func NewHandler(baseHandler *transport.BaseHandler, tokens TokenValidator) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Tokens:      tokens,
	}
}

// RequireOperator admits requests carrying a valid token with the
// operator role.
func (h *Handler) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := transport.BearerToken(r)
		if token == "" {
			h.HandleError(w, r, internal.ErrInvalidToken)
			return
		}

		claims, err := h.Tokens.ValidateToken(token)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				h.HandleError(w, r, internal.ErrTokenExpired)
				return
			}
			h.HandleError(w, r, internal.ErrInvalidToken)
			return
		}

		if claims.Role != RoleOperator {
			h.Logger.Warn("operator access denied", "subject", claims.Subject, "role", claims.Role)
			h.HandleError(w, r, internal.ErrUnauthorizedAccess)
			return
		}

		ctx := internal.ContextWithOperator(r.Context(), claims.Subject)
		ctx = logger.With(ctx, "operator", claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
