package httpserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/domain"
)

// Recoverer converts panics into 500 responses instead of dropped connections.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path))
				writeError(w, r, fmt.Errorf("internal error"), nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newReqID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestID assigns a ULID to each request, echoes it in X-Request-Id, and
// seeds the context with a request-scoped logger carrying trace identifiers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newReqID()
		}
		w.Header().Set("X-Request-Id", id)

		lg := slog.Default().With(slog.String("request_id", id))
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			lg = lg.With(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()))
		}
		ctx := observability.ContextWithLogger(r.Context(), lg)
		ctx = observability.ContextWithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TimeoutMiddleware bounds handler time with http.TimeoutHandler.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"error":{"code":"TIMEOUT","message":"request timed out"}}`)
	}
}

// SecurityHeaders sets conservative defaults for an API-only surface.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// AccessLog emits one structured line per request, leveled by status.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		lg := observability.LoggerFromContext(r.Context())
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", r.RemoteAddr),
		}
		switch {
		case ww.Status() >= 500:
			lg.Error("http request", attrs...)
		case ww.Status() >= 400:
			lg.Warn("http request", attrs...)
		default:
			lg.Info("http request", attrs...)
		}
	})
}

// APIKeyAuth rejects requests whose X-API-KEY header does not match apiKey.
// An empty apiKey disables the guard entirely.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-KEY")
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
					Code:    "UNAUTHORIZED",
					Message: "missing or invalid API key",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the named token-bucket family per caller IP. Limiter
// errors fail open; a deny returns 429 with Retry-After.
func RateLimit(limiter domain.RateLimiter, family string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := family + ":" + clientIP(r)
			allowed, _, err := limiter.Allow(r.Context(), key, 1)
			if err != nil {
				observability.LoggerFromContext(r.Context()).Warn("rate limiter unavailable, allowing",
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeError(w, r, fmt.Errorf("%w: too many requests", domain.ErrRateLimited), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
