package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/adapter/search/elastic"
	"github.com/openstream/octane/internal/domain"
)

// SearchService executes hybrid searches: analyze, expand, embed, retrieve,
// rerank, shape.
type SearchService struct {
	Store        domain.DocStore
	AI           domain.AIGateway
	DefaultIndex string

	// Per-process breaker: three consecutive reranker failures open the
	// circuit and searches degrade to store ordering until it half-opens.
	rerankBreaker *gobreaker.CircuitBreaker
}

// NewSearchService wires the search executor.
func NewSearchService(store domain.DocStore, gateway domain.AIGateway, defaultIndex string) *SearchService {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "reranker",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("rerank breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &SearchService{Store: store, AI: gateway, DefaultIndex: defaultIndex, rerankBreaker: breaker}
}

// Execute runs the full search pipeline for one request.
func (s *SearchService) Execute(ctx domain.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	req.Normalize()
	observability.SearchRequestsTotal.WithLabelValues(req.SortBy).Inc()

	queryText := req.Query
	var analysis domain.QueryAnalysis
	if req.EnableQueryAnalysis {
		var err error
		analysis, err = s.AI.AnalyzeQuery(ctx, req.Query)
		if err != nil {
			// AnalyzeQuery falls back internally; an error here is defensive.
			analysis = domain.QueryAnalysis{DetectedLanguage: "en"}
		}
		if analysis.DetectedLanguage != "en" && analysis.TranslatedQuery != "" {
			queryText = analysis.TranslatedQuery
			slog.Info("query translated",
				slog.String("language", analysis.DetectedLanguage))
		}
		if req.EnableQueryExpansion && analysis.OriginalIntent != "nonsense" && len(analysis.ExpandedTerms) > 0 {
			queryText = queryText + " " + strings.Join(analysis.ExpandedTerms, " ")
		}
	}

	var vector []float32
	if req.UseHybrid {
		vectors, err := s.AI.Embed(ctx, []string{queryText})
		if err != nil {
			return nil, fmt.Errorf("op=search.Execute: embed query: %w", err)
		}
		if len(vectors) > 0 {
			vector = vectors[0]
		}
	}

	retrievalSize := req.Limit
	if req.EnableReranking {
		retrievalSize = req.Limit * 3
		if retrievalSize < 20 {
			retrievalSize = 20
		}
	}

	body := elastic.BuildSearchBody(elastic.QueryParams{
		Query:           queryText,
		Vector:          vector,
		Entities:        analysis.Entities,
		Language:        analysis.DetectedLanguage,
		Limit:           retrievalSize,
		MinScore:        req.MinScore,
		SortBy:          req.SortBy,
		Filters:         req.Filters,
		UseHybrid:       req.UseHybrid,
		VectorThreshold: req.VectorThreshold,
		ReturnChunks:    req.ReturnChunks,
	})

	index := req.IndexName
	if index == "" {
		index = s.DefaultIndex
	}
	storeHits, err := s.Store.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("op=search.Execute: %w", err)
	}

	hits := shapeHits(storeHits, req.Debug)
	if req.EnableReranking && len(hits) > 0 {
		hits = s.rerank(ctx, queryText, hits)
	}
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func shapeHits(storeHits []domain.StoreHit, debug bool) []domain.SearchHit {
	hits := make([]domain.SearchHit, 0, len(storeHits))
	for _, h := range storeHits {
		hit := domain.SearchHit{
			Score:        h.Score,
			EntityID:     h.Source.EntityID,
			SourceApp:    h.Source.SourceApp,
			Title:        h.Source.Title,
			Summary:      h.Source.Summary,
			Metadata:     h.Source.Metadata,
			Entities:     h.Source.Entities,
			KeyConcepts:  h.Source.KeyConcepts,
			Language:     h.Source.Language,
			MatchedChunk: h.MatchedChunk,
		}
		if debug {
			hit.Debug = map[string]any{"store_score": h.Score}
		}
		hits = append(hits, hit)
	}
	return hits
}

// rerank reorders hits with the cross-encoder. Any failure, including an
// open circuit, degrades to store ordering.
func (s *SearchService) rerank(ctx domain.Context, query string, hits []domain.SearchHit) []domain.SearchHit {
	docs := make([]domain.RerankDoc, len(hits))
	for i, h := range hits {
		docs[i] = domain.RerankDoc{ID: h.EntityID, Text: rerankText(h)}
	}

	res, err := s.rerankBreaker.Execute(func() (any, error) {
		return s.AI.Rerank(ctx, query, docs)
	})
	if err != nil {
		slog.Warn("reranking degraded", slog.Any("error", err))
		observability.RerankDegradedTotal.Inc()
		return hits
	}
	results, ok := res.([]domain.RerankResult)
	if !ok || len(results) == 0 {
		return hits
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = r.Score
	}
	for i := range hits {
		if score, ok := scores[hits[i].EntityID]; ok {
			v := score
			hits[i].RerankScore = &v
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := -1.0, -1.0
		if hits[i].RerankScore != nil {
			si = *hits[i].RerankScore
		}
		if hits[j].RerankScore != nil {
			sj = *hits[j].RerankScore
		}
		return si > sj
	})
	return hits
}

// rerankText picks the densest snippet available for the cross-encoder:
// matched chunk, then summary, then title.
func rerankText(h domain.SearchHit) string {
	if h.MatchedChunk != "" {
		return h.MatchedChunk
	}
	if h.Summary != "" {
		return h.Summary
	}
	return h.Title
}
