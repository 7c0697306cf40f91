package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/logging"
	"github.com/LucaDeLeo/realitycam/internal/metrics"
	"github.com/LucaDeLeo/realitycam/internal/security"
	"github.com/google/uuid"
)

func requestIDFromContext(ctx context.Context) string {
	return logging.RequestIDFromContext(ctx)
}

// withRequestID stamps every request with a fresh request id used both in
// the response envelope's meta and in log correlation.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecover converts a panicking handler into a 500 response instead of
// crashing the listener goroutine.
func withRecover(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.WithContext(r.Context()).Error("handler panicked", "panic", rec)
				writeError(w, r, apierr.New(apierr.Internal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withLogging logs each request's outcome at info level, with the request
// id for correlation against any logged internal error cause.
func withLogging(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.WithContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// withMetrics records request latency and in-flight count against the
// collector's http_request_duration_seconds histogram and
// http_requests_in_flight gauge (SPEC_FULL.md §4.9).
func withMetrics(collector *metrics.Collector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		collector.IncInFlight()
		defer collector.DecInFlight()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		collector.ObserveHTTPRequest(r.URL.Path, statusClass(rec.status), time.Since(start).Seconds())
	})
}

// statusClass buckets an HTTP status code to keep the route/status label
// pair low-cardinality ("2xx", "4xx", ...) rather than one series per code.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// withRateLimit applies the general per-second token-bucket rate limiter
// (spec.md §6) keyed by source IP.
func withRateLimit(limiter *security.IPRateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := sourceIP(r)
		if !limiter.Allow(ip) {
			writeError(w, r, apierr.New(apierr.RateLimitExceeded, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
