package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/usecase"
)

// Server aggregates the gateway's dependencies for handler wiring.
type Server struct {
	Cfg    config.Config
	Bus    domain.Bus
	Search *usecase.SearchService

	// Readiness checks, one per hard dependency. Nil checks are skipped.
	ESCheck    func(ctx domain.Context) error
	DBCheck    func(ctx domain.Context) error
	RedisCheck func(ctx domain.Context) error
	BusCheck   func(ctx domain.Context) error
}

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type ingestAccepted struct {
	Status  string `json:"status"`
	TraceID string `json:"trace_id"`
	Topic   string `json:"topic"`
}

// IngestHandler accepts a Submission, validates it, and publishes it to the
// source app's request topic keyed by entity id. The document itself is
// written later by pass 1; the HTTP call only queues.
func (s *Server) IngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub domain.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(sub); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if sub.Operation == "index" && sub.Body() == "" {
			writeError(w, r, fmt.Errorf("%w: payload.text or payload.content is required for index", domain.ErrInvalidArgument), nil)
			return
		}

		if sub.TraceID == "" {
			sub.TraceID = newReqID()
		}
		if sub.Timestamp == "" {
			sub.Timestamp = time.Now().UTC().Format(time.RFC3339)
		}

		topic := config.IngestTopic(sub.SourceApp)
		if err := s.Bus.Publish(r.Context(), topic, sub.EntityID, sub); err != nil {
			observability.LoggerFromContext(r.Context()).Error("ingest publish failed",
				slog.String("topic", topic),
				slog.String("entity_id", sub.EntityID),
				slog.Any("error", err))
			writeError(w, r, fmt.Errorf("could not queue submission"), nil)
			return
		}

		observability.LoggerFromContext(r.Context()).Info("submission queued",
			slog.String("topic", topic),
			slog.String("entity_id", sub.EntityID),
			slog.String("entity_type", sub.EntityType),
			slog.String("trace_id", sub.TraceID))
		writeJSON(w, http.StatusAccepted, ingestAccepted{
			Status:  "queued",
			TraceID: sub.TraceID,
			Topic:   topic,
		})
	}
}

type searchResponse struct {
	Results []domain.SearchHit `json:"results"`
}

// SearchHandler runs the hybrid search pipeline synchronously.
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		hits, err := s.Search.Execute(r.Context(), req)
		if err != nil {
			observability.LoggerFromContext(r.Context()).Error("search failed",
				slog.String("query", req.Query), slog.Any("error", err))
			writeError(w, r, err, nil)
			return
		}
		if hits == nil {
			hits = []domain.SearchHit{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: hits})
	}
}

// HealthzHandler is liveness only: the process is up and serving.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes every hard dependency and reports 503 until all pass.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		name string
		fn   func(ctx domain.Context) error
	}
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []check{
			{"elasticsearch", s.ESCheck},
			{"postgres", s.DBCheck},
			{"redis", s.RedisCheck},
			{"bus", s.BusCheck},
		}

		status := map[string]string{}
		ready := true
		for _, c := range checks {
			if c.fn == nil {
				continue
			}
			if err := c.fn(r.Context()); err != nil {
				status[c.name] = err.Error()
				ready = false
				continue
			}
			status[c.name] = "ok"
		}

		code := http.StatusOK
		overall := "ready"
		if !ready {
			code = http.StatusServiceUnavailable
			overall = "unavailable"
		}
		writeJSON(w, code, map[string]any{"status": overall, "checks": status})
	}
}
