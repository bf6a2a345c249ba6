package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"signlink/internal/platform/metrics"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/httputil"
	"signlink/pkg/requestcontext"
)

// Middleware limits requests per client IP under the given key prefix.
// Limiter errors let the request through.
func Middleware(limiter Limiter, prefix string, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			res, err := limiter.Allow(ctx, prefix+":"+ip)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				m.IncRateLimited()
				logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequests, "Too many attempts. Please try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
