// Package middleware holds the storefront's cross-cutting HTTP middleware:
// one structured log line and one set of Prometheus samples per request.
//
// Both wrap the handler the same way:
//
//	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
//	next.ServeHTTP(rec, r)  // the handler (and chi's routing) runs here
//	// afterwards: rec.status, rec.bytes and routePattern(r) are final
//
// Anything that depends on routing, like the matched pattern, can only be
// read after next.ServeHTTP returns.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder remembers the status code and body size a handler wrote.
// A handler that never calls WriteHeader answered 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// routePattern is the chi pattern that matched ("/vendor/stores/{id}"), or
// "unknown" when nothing did.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

// Logger writes one "request completed" line per request.
//
// FIELDS:
//   - method, path, route (the matched pattern), status, duration, bytes
//   - remote_ip: after chi's RealIP, the client rather than the proxy
//   - request_id: from chi's RequestID, which must run before Logger
//
// 5xx answers are logged at Error, everything else at Info.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.bytes),
				slog.String("remote_ip", r.RemoteAddr),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
