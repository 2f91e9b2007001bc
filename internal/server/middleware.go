package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxArgLogLen is the maximum length for logged query strings before truncation.
const maxArgLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = time.Second

// LoggingMiddleware returns middleware that logs all requests with timing.
// Server errors are logged at ERROR, slow requests (>1s) at WARN and
// everything else at DEBUG.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if r.URL.RawQuery != "" {
				attrs = append(attrs, "query", truncate(r.URL.RawQuery, maxArgLogLen))
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request failed", attrs...)
			case duration > slowRequestThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
		})
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
