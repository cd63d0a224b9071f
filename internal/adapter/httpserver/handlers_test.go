package httpserver_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpserver "github.com/openstream/octane/internal/adapter/httpserver"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/usecase"
)

type fakeBus struct {
	topics []string
	keys   []string
	values []any
	err    error
}

func (b *fakeBus) Publish(_ domain.Context, topic, key string, value any) error {
	if b.err != nil {
		return b.err
	}
	b.topics = append(b.topics, topic)
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	return nil
}

type fakeDocStore struct {
	hits []domain.StoreHit
	err  error
}

func (s *fakeDocStore) EnsureIndex(domain.Context, string, int) error { return nil }
func (s *fakeDocStore) UpsertDocument(domain.Context, string, domain.IndexedDocument) error {
	return nil
}
func (s *fakeDocStore) UpdateDocument(domain.Context, string, string, map[string]any) error {
	return nil
}
func (s *fakeDocStore) Search(domain.Context, string, map[string]any) ([]domain.StoreHit, error) {
	return s.hits, s.err
}

type fakeGateway struct{}

func (fakeGateway) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeGateway) Chat(domain.Context, string, string, string) (string, error) { return "{}", nil }
func (fakeGateway) Rerank(domain.Context, string, []domain.RerankDoc) ([]domain.RerankResult, error) {
	return nil, nil
}
func (fakeGateway) AnalyzeQuery(domain.Context, string) (domain.QueryAnalysis, error) {
	return domain.QueryAnalysis{DetectedLanguage: "en"}, nil
}

func newTestServer(bus *fakeBus, store *fakeDocStore) *httpserver.Server {
	return &httpserver.Server{
		Cfg:    config.Config{Port: 8080},
		Bus:    bus,
		Search: usecase.NewSearchService(store, fakeGateway{}, "octane-search-v1"),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *http.Response {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, r)
	return w.Result()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	m := decodeBody(t, resp)
	errObj, ok := m["error"].(map[string]any)
	require.True(t, ok)
	code, _ := errObj["code"].(string)
	return code
}

func TestIngestHandler_400_InvalidJSON(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), "{invalid json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", errorCode(t, resp))
}

func TestIngestHandler_400_MissingFields(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{"entity_id":"e1"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", errorCode(t, resp))
}

func TestIngestHandler_400_UnsupportedOperation(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{
		"source_app":"blog","entity_id":"e1","entity_type":"article",
		"operation":"delete","payload":{"title":"t","text":"body"}
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestHandler_400_IndexWithoutBody(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{
		"source_app":"blog","entity_id":"e1","entity_type":"article",
		"operation":"index","payload":{"title":"t"}
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", errorCode(t, resp))
}

func TestIngestHandler_202_Queued(t *testing.T) {
	bus := &fakeBus{}
	srv := newTestServer(bus, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{
		"source_app":"blog","entity_id":"e1","entity_type":"article",
		"operation":"index","payload":{"title":"t","text":"body"}
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	m := decodeBody(t, resp)
	require.Equal(t, "queued", m["status"])
	require.Equal(t, "blog.ingest.requests", m["topic"])
	require.NotEmpty(t, m["trace_id"], "a trace id is generated when absent")

	require.Equal(t, []string{"blog.ingest.requests"}, bus.topics)
	require.Equal(t, []string{"e1"}, bus.keys, "events are keyed by entity id")

	sub, ok := bus.values[0].(domain.Submission)
	require.True(t, ok)
	require.Equal(t, m["trace_id"], sub.TraceID)
	require.NotEmpty(t, sub.Timestamp)
}

func TestIngestHandler_KeepsCallerTraceID(t *testing.T) {
	bus := &fakeBus{}
	srv := newTestServer(bus, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{
		"trace_id":"trace-42","source_app":"video","entity_id":"v1",
		"entity_type":"video","operation":"index",
		"payload":{"title":"t","content":"body"}
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	m := decodeBody(t, resp)
	require.Equal(t, "trace-42", m["trace_id"])
	require.Equal(t, "video.ingest.requests", m["topic"])
}

func TestIngestHandler_500_PublishFailure(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker down")}
	srv := newTestServer(bus, &fakeDocStore{})
	resp := postJSON(t, srv.IngestHandler(), `{
		"source_app":"blog","entity_id":"e1","entity_type":"article",
		"operation":"index","payload":{"title":"t","text":"body"}
	}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "INTERNAL", errorCode(t, resp))
}

func TestSearchHandler_400_MissingQuery(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.SearchHandler(), `{"limit":5}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", errorCode(t, resp))
}

func TestSearchHandler_200_Results(t *testing.T) {
	store := &fakeDocStore{hits: []domain.StoreHit{
		{Score: 42, Source: domain.IndexedDocument{EntityID: "e1", Title: "hit"}},
	}}
	srv := newTestServer(&fakeBus{}, store)
	resp := postJSON(t, srv.SearchHandler(), `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m := decodeBody(t, resp)
	results, ok := m["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	require.Equal(t, "e1", hit["entity_id"])
	require.Equal(t, float64(42), hit["score"])
}

func TestSearchHandler_200_EmptyResultsStayAnArray(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	resp := postJSON(t, srv.SearchHandler(), `{"query":"nothing matches"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Contains(t, string(b), `"results":[]`)
}

func TestSearchHandler_503_UpstreamTimeout(t *testing.T) {
	store := &fakeDocStore{err: fmt.Errorf("es: %w", domain.ErrUpstreamTimeout)}
	srv := newTestServer(&fakeBus{}, store)
	resp := postJSON(t, srv.SearchHandler(), `{"query":"golang"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "UPSTREAM_TIMEOUT", errorCode(t, resp))
}

func TestHealthzHandler(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.HealthzHandler()(w, r)
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestReadyzHandler(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	srv.ESCheck = func(domain.Context) error { return nil }
	srv.DBCheck = func(domain.Context) error { return errors.New("connection refused") }

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.ReadyzHandler()(w, r)
	resp := w.Result()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m := decodeBody(t, resp)
	require.Equal(t, "unavailable", m["status"])
	checks := m["checks"].(map[string]any)
	require.Equal(t, "ok", checks["elasticsearch"])
	require.Contains(t, checks["postgres"], "connection refused")
	require.NotContains(t, checks, "redis", "nil checks are skipped")
}

func TestReadyzHandler_AllHealthy(t *testing.T) {
	srv := newTestServer(&fakeBus{}, &fakeDocStore{})
	srv.ESCheck = func(domain.Context) error { return nil }
	srv.DBCheck = func(domain.Context) error { return nil }
	srv.RedisCheck = func(domain.Context) error { return nil }

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.ReadyzHandler()(w, r)
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ready", decodeBody(t, resp)["status"])
}

type fakeLimiter struct {
	allowed bool
	keys    []string
}

func (l *fakeLimiter) Allow(_ domain.Context, key string, _ int64) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return l.allowed, 30 * time.Second, nil
}

func TestAPIKeyAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("disabled when key empty", func(t *testing.T) {
		h := httpserver.APIKeyAuth("")(next)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("rejects missing key", func(t *testing.T) {
		h := httpserver.APIKeyAuth("secret")(next)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		h := httpserver.APIKeyAuth("secret")(next)
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-API-KEY", "wrong")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts matching key", func(t *testing.T) {
		h := httpserver.APIKeyAuth("secret")(next)
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-API-KEY", "secret")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("deny returns 429 with retry-after", func(t *testing.T) {
		lim := &fakeLimiter{allowed: false}
		h := httpserver.RateLimit(lim, "ingest")(next)
		r := httptest.NewRequest(http.MethodPost, "/ingest", nil)
		r.RemoteAddr = "10.0.0.4:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.Equal(t, "60", w.Header().Get("Retry-After"))
		require.Equal(t, []string{"ingest:10.0.0.4"}, lim.keys, "buckets are per family and caller")

		var m map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
		require.Equal(t, "RATE_LIMITED", m["error"].(map[string]any)["code"])
	})

	t.Run("allow passes through", func(t *testing.T) {
		lim := &fakeLimiter{allowed: true}
		h := httpserver.RateLimit(lim, "search")(next)
		r := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(nil))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("nil limiter allows everything", func(t *testing.T) {
		h := httpserver.RateLimit(nil, "search")(next)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/search", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRequestID_SetsHeaderAndEchoesExisting(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := httpserver.RequestID(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "req-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, "req-1", w.Header().Get("X-Request-Id"))
}

func TestSecurityHeaders(t *testing.T) {
	h := httpserver.SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
