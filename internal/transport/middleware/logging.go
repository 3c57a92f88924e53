package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

const filtered = "[FILTERED]"

// sensitiveFields are matched as substrings of lowercased header and JSON keys.
var sensitiveFields = []string{
	"token",
	"authorization",
	"secret",
	"signature",
	"api_key",
	"credential",
	"cookie",
	"email",
	"card",
}

// maxLoggedBody caps how much of a request body is kept for the log line.
const maxLoggedBody = 4 << 10

// WebhookPathPrefix marks routes whose bodies are unauthenticated until the
// handler verifies them. They are logged by size only.
const WebhookPathPrefix = "/api/v1/webhooks/"

// Logging writes one line per request and one per response. Checkout and
// operator bodies are logged with sensitive keys masked; only the first
// maxLoggedBody bytes are read ahead of the handler.
func Logging(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := base.With("trace_id", internal.TraceIDFromContext(r.Context()))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"headers", FilterSensitiveHeaders(r.Header),
			}
			switch {
			case r.Body == nil || r.Body == http.NoBody:
			case strings.HasPrefix(r.URL.Path, WebhookPathPrefix):
				attrs = append(attrs, "body_bytes", r.ContentLength)
			default:
				prefix, err := peekBody(r)
				switch {
				case err != nil:
					attrs = append(attrs, "body_error", err.Error())
				case len(prefix) > maxLoggedBody:
					attrs = append(attrs, "body", "[BODY TOO LARGE]")
				default:
					attrs = append(attrs, "body", FilterSensitiveBody(prefix))
				}
			}
			lg.Info("incoming request", attrs...)

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			lg.Log(r.Context(), level, "response",
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", sw.size,
			)
			logger.From(r.Context()).Debug("request finished", "path", r.URL.Path, "status_code", status)
		})
	}
}

// peekBody reads at most maxLoggedBody+1 bytes and puts them back in front
// of the unread remainder, so limits applied by the handler still see the
// whole stream.
func peekBody(r *http.Request) ([]byte, error) {
	prefix, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), r.Body), r.Body}
	return prefix, err
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// FilterSensitiveHeaders flattens headers and masks the ones carrying
// credentials or signatures.
func FilterSensitiveHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// FilterSensitiveBody masks sensitive keys of a JSON body. Non-JSON bodies
// are only reported by size.
func FilterSensitiveBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[NON-JSON BODY]"
	}

	out, err := json.Marshal(filterJSON(data))
	if err != nil {
		return "[UNREADABLE BODY]"
	}
	if len(out) > maxLoggedBody {
		return string(out[:maxLoggedBody]) + "...(truncated)"
	}
	return string(out)
}

func filterJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				out[key] = filtered
				continue
			}
			out[key] = filterJSON(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = filterJSON(item)
		}
		return out
	default:
		return v
	}
}
