// Package app assembles the gateway's HTTP surface and shared startup wiring.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/openstream/octane/internal/adapter/httpserver"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the gateway handler with all middleware and routes.
// The limiter holds the "ingest" and "search" bucket families; nil disables
// the per-family limits.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter domain.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer)
	r.Use(httpserver.RequestID)
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog)
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Authenticated API, guarded by a coarse per-IP limit before the
	// Redis-backed family buckets.
	r.Group(func(gr chi.Router) {
		if cfg.HTTPRateLimitPerMin > 0 {
			gr.Use(httprate.LimitByIP(cfg.HTTPRateLimitPerMin, 1*time.Minute))
		}
		gr.Use(httpserver.APIKeyAuth(cfg.APIKey))

		gr.Group(func(ir chi.Router) {
			ir.Use(httpserver.RateLimit(limiter, "ingest"))
			ir.Post("/ingest", srv.IngestHandler())
		})
		gr.Group(func(sr chi.Router) {
			sr.Use(httpserver.RateLimit(limiter, "search"))
			sr.Post("/search", srv.SearchHandler())
		})
	})

	// Health and metrics stay unauthenticated for probes and scrapers.
	r.Get("/health", srv.HealthzHandler())
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	return httpserver.SecurityHeaders(r)
}
