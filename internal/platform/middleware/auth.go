package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"signlink/pkg/requestcontext"
)

// UnauthorizedHook is notified when a key check fails so callers can audit it.
type UnauthorizedHook func(r *http.Request, header string)

// RequireAPIKey guards external integrations with the X-API-Key header.
// An empty expected key rejects every request.
func RequireAPIKey(expected string, logger *slog.Logger, onReject UnauthorizedHook) func(http.Handler) http.Handler {
	return requireKey("X-API-Key", expected, "valid API key required", logger, onReject)
}

// RequireAdminKey guards dashboard and maintenance routes with the X-Admin-Key header.
func RequireAdminKey(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return requireKey("X-Admin-Key", expected, "admin key required", logger, nil)
}

func requireKey(header, expected, description string, logger *slog.Logger, onReject UnauthorizedHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(header)
			if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - key mismatch",
					"header", header,
					"request_id", requestcontext.RequestID(ctx),
				)
				if onReject != nil {
					onReject(r, header)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
