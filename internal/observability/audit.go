package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit emits a structured audit record for a session lifecycle event.
func Audit(r *http.Request, event, outcome string, attrs ...any) {
	base := []any{
		"event", event,
		"outcome", outcome,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
