package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

// BaseHandler carries the JSON and error rendering every HTTP handler shares.
type BaseHandler struct {
	Logger *slog.Logger
}

func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	return &BaseHandler{Logger: lg}
}

func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// HandleError renders an AppError with its own status. Anything else is
// logged and reported as a 500 without leaking the cause.
func (h *BaseHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	lg := logger.Or(r.Context(), h.Logger)

	appErr, ok := internal.IsAppError(err)
	if !ok {
		lg.Error("unhandled error", "error", err)
		appErr = internal.NewInternalError("Internal server error", err)
	}

	status, body := appErr.ToHTTPResponse(internal.TraceIDFromContext(r.Context()))
	if status >= http.StatusInternalServerError {
		lg.Error("request failed", "status", status, "code", appErr.Code, "error", appErr.Error())
	} else {
		lg.Warn("request rejected", "status", status, "code", appErr.Code, "message", appErr.GetDetailedMessage())
	}
	h.WriteJSON(w, status, body)
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
