// Package ai implements the gateway to the remote intelligence service.
//
// All calls go over its OpenAI-compatible HTTP surface with X-API-KEY auth.
// Transient failures retry with exponential backoff; callers that can degrade
// (reranking, query analysis) handle errors themselves.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Client implements domain.AIGateway over the intelligence service HTTP API.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client with separate generous timeouts for chat-class calls.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// post sends one JSON request and decodes the response into out. 429 and 5xx
// are returned as retryable errors; 4xx are permanent.
func (c *Client) post(ctx domain.Context, operation, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("op=ai.post: marshal: %w", err)
	}

	op := func() error {
		start := time.Now()
		// Fresh request per attempt so a consumed body is never reused.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IntelligenceSvcURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.ServiceAPIKey != "" {
			req.Header.Set("X-API-KEY", c.cfg.ServiceAPIKey)
		}
		req.Header.Set("X-App-ID", "octane")

		resp, err := c.hc.Do(req)
		observability.AIRequestsTotal.WithLabelValues(operation).Inc()
		observability.AIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.UpstreamFailure("intelligence", operation)
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("intelligence service rate limited",
				slog.String("operation", operation), slog.Int("status", resp.StatusCode))
			observability.UpstreamFailure("intelligence", operation)
			return fmt.Errorf("%w: status=429", domain.ErrUpstreamRateLimit)
		case resp.StatusCode >= 500:
			observability.UpstreamFailure("intelligence", operation)
			return fmt.Errorf("intelligence service error: status=%d body=%s", resp.StatusCode, snippet(data))
		case resp.StatusCode >= 400:
			observability.UpstreamFailure("intelligence", operation)
			return backoff.Permanent(fmt.Errorf("%w: status=%d body=%s", domain.ErrInvalidArgument, resp.StatusCode, snippet(data)))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.backoffConfig(), ctx)); err != nil {
		return fmt.Errorf("op=ai.%s: %w", operation, err)
	}
	return nil
}

func snippet(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, batching requests so no single
// call exceeds the configured batch size.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := c.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var resp embeddingResponse
		body := map[string]any{
			"input": batch,
			"model": c.cfg.EmbeddingModel,
		}
		if err := c.post(ctx, "embed", "/v1/embeddings", body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("op=ai.Embed: got %d embeddings for %d inputs", len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	}
	return vectors, nil
}

type chatResponse struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
}

// Chat sends a system+user prompt pair and returns the raw completion text.
func (c *Client) Chat(ctx domain.Context, system, prompt, model string) (string, error) {
	if model == "" {
		model = c.cfg.SummaryModel
	}
	var resp chatResponse
	body := map[string]any{
		"model":  model,
		"prompt": prompt,
		"system": system,
	}
	if err := c.post(ctx, "chat", "/v1/chat/completions", body, &resp); err != nil {
		return "", err
	}
	slog.Debug("chat completion received",
		slog.String("model", model),
		slog.String("provider", resp.Provider),
		slog.Int("content_len", len(resp.Content)))
	return resp.Content, nil
}

type rerankResponse struct {
	Results []domain.RerankResult `json:"results"`
}

// Rerank scores candidate documents against the query with a cross-encoder.
func (c *Client) Rerank(ctx domain.Context, query string, docs []domain.RerankDoc) ([]domain.RerankResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var resp rerankResponse
	body := map[string]any{
		"query":     query,
		"documents": docs,
		"model":     c.cfg.RerankModel,
	}
	if err := c.post(ctx, "rerank", "/v1/rerank/rerank", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// AnalyzeQuery asks the analyzer for language, intent, entities and expansion
// terms. Failures fall back to a neutral English analysis so search never
// hard-fails on the analyzer.
func (c *Client) AnalyzeQuery(ctx domain.Context, query string) (domain.QueryAnalysis, error) {
	var out domain.QueryAnalysis
	body := map[string]any{"query": query}
	if err := c.post(ctx, "analyze_query", "/v1/query/analyze", body, &out); err != nil {
		slog.Warn("query analysis failed, using fallback", slog.Any("error", err))
		return domain.QueryAnalysis{
			DetectedLanguage: "en",
			OriginalIntent:   "search",
			Entities:         []string{},
			ExpandedTerms:    []string{},
		}, nil
	}
	if out.DetectedLanguage == "" {
		out.DetectedLanguage = "en"
	}
	return out, nil
}
