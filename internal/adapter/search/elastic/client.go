// Package elastic talks to Elasticsearch over its JSON REST API.
//
// The query DSL is composed as raw JSON maps; the client itself only deals
// with request plumbing, auth and response envelopes.
package elastic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/domain"
)

// Client is a minimal Elasticsearch HTTP client.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	tracer   trace.Tracer
}

// New constructs a Client for the given host, e.g. "http://elasticsearch:9200".
func New(host, username, password string) *Client {
	return &Client{
		baseURL:  host,
		username: username,
		password: password,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer("octane/elastic"),
	}
}

func (c *Client) do(ctx domain.Context, method, path string, body any, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("op=elastic.do: marshal: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("op=elastic.do: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.UpstreamFailure("elasticsearch", method+" "+path)
		return 0, fmt.Errorf("op=elastic.do: %w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("op=elastic.do: read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		observability.UpstreamFailure("elasticsearch", method+" "+path)
		return resp.StatusCode, fmt.Errorf("op=elastic.do: %w", domain.ErrUpstreamRateLimit)
	}
	if resp.StatusCode >= 400 {
		observability.UpstreamFailure("elasticsearch", method+" "+path)
		return resp.StatusCode, fmt.Errorf("op=elastic.do: status=%d body=%s",
			resp.StatusCode, truncateBody(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("op=elastic.do: decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Ping checks cluster reachability, for readiness probes.
func (c *Client) Ping(ctx domain.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/", nil, nil)
	return err
}

// EnsureIndex creates the index with the strict mapping if it does not exist.
// Existing indices are left untouched; mapping migrations are a reindex
// concern, not a startup concern.
func (c *Client) EnsureIndex(ctx domain.Context, name string, dims int) error {
	ctx, span := c.tracer.Start(ctx, "elastic.EnsureIndex",
		trace.WithAttributes(attribute.String("index", name)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/"+url.PathEscape(name), nil)
	if err != nil {
		return fmt.Errorf("op=elastic.EnsureIndex: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		observability.UpstreamFailure("elasticsearch", "head_index")
		return fmt.Errorf("op=elastic.EnsureIndex: %w: %v", domain.ErrUpstreamTimeout, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("op=elastic.EnsureIndex: status=%d", resp.StatusCode)
	}

	body := map[string]any{"mappings": FullMapping(dims)}
	if _, err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(name), body, nil); err != nil {
		return fmt.Errorf("op=elastic.EnsureIndex: create: %w", err)
	}
	return nil
}

// UpsertDocument writes the full document under its entity id.
func (c *Client) UpsertDocument(ctx domain.Context, index string, doc domain.IndexedDocument) error {
	ctx, span := c.tracer.Start(ctx, "elastic.UpsertDocument",
		trace.WithAttributes(
			attribute.String("index", index),
			attribute.String("entity_id", doc.EntityID),
		))
	defer span.End()

	path := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(doc.EntityID)
	if _, err := c.do(ctx, http.MethodPut, path, doc, nil); err != nil {
		return fmt.Errorf("op=elastic.UpsertDocument: %w", err)
	}
	return nil
}

// UpdateDocument applies a partial update to an existing document.
func (c *Client) UpdateDocument(ctx domain.Context, index, entityID string, fields map[string]any) error {
	ctx, span := c.tracer.Start(ctx, "elastic.UpdateDocument",
		trace.WithAttributes(
			attribute.String("index", index),
			attribute.String("entity_id", entityID),
		))
	defer span.End()

	path := "/" + url.PathEscape(index) + "/_update/" + url.PathEscape(entityID)
	body := map[string]any{"doc": fields}
	if _, err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("op=elastic.UpdateDocument: %w", err)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score     float64         `json:"_score"`
			Source    json.RawMessage `json:"_source"`
			InnerHits map[string]struct {
				Hits struct {
					Hits []struct {
						Source struct {
							TextChunk string `json:"text_chunk"`
						} `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			} `json:"inner_hits"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a raw query body against the index and flattens the response
// into store hits, pulling the best matched chunk from inner hits when the
// query asked for them.
func (c *Client) Search(ctx domain.Context, index string, body map[string]any) ([]domain.StoreHit, error) {
	ctx, span := c.tracer.Start(ctx, "elastic.Search",
		trace.WithAttributes(attribute.String("index", index)))
	defer span.End()

	var resp searchResponse
	path := "/" + url.PathEscape(index) + "/_search"
	if _, err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("op=elastic.Search: %w", err)
	}

	hits := make([]domain.StoreHit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var src domain.IndexedDocument
		if err := json.Unmarshal(h.Source, &src); err != nil {
			return nil, fmt.Errorf("op=elastic.Search: decode source: %w", err)
		}
		hit := domain.StoreHit{Score: h.Score, Source: src}
		if ih, ok := h.InnerHits["matched_chunks"]; ok && len(ih.Hits.Hits) > 0 {
			hit.MatchedChunk = ih.Hits.Hits[0].Source.TextChunk
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
