package domain

// Sort modes for the hybrid search executor.
const (
	SortRelevancy = "relevancy"
	SortRecency   = "recency"
	SortBalanced  = "balanced"
)

// SearchRequest is the input of the hybrid search executor.
type SearchRequest struct {
	Query                string         `json:"query" validate:"required"`
	Limit                int            `json:"limit,omitempty"`
	Filters              map[string]any `json:"filters,omitempty"`
	IndexName            string         `json:"index_name,omitempty"`
	UseHybrid            bool           `json:"use_hybrid"`
	MinScore             float64        `json:"min_score,omitempty"`
	VectorThreshold      float64        `json:"vector_threshold,omitempty"`
	ReturnChunks         bool           `json:"return_chunks"`
	SortBy               string         `json:"sort_by,omitempty" validate:"omitempty,oneof=relevancy recency balanced"`
	EnableQueryExpansion bool           `json:"enable_query_expansion"`
	EnableQueryAnalysis  bool           `json:"enable_query_analysis"`
	EnableReranking      bool           `json:"enable_reranking"`
	Debug                bool           `json:"debug"`
}

// Defaults mirrored from the ingestion surface.
const (
	DefaultSearchLimit     = 10
	DefaultMinScore        = 25.0
	DefaultVectorThreshold = 0.65
	DefaultChunkSize       = 500
	DefaultChunkOverlap    = 50
)

// Normalize fills zero-valued request fields with their defaults.
func (r *SearchRequest) Normalize() {
	if r.Limit <= 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.MinScore <= 0 {
		r.MinScore = DefaultMinScore
	}
	if r.VectorThreshold <= 0 {
		r.VectorThreshold = DefaultVectorThreshold
	}
	if r.SortBy == "" {
		r.SortBy = SortRelevancy
	}
}

// QueryAnalysis is the analyzer verdict for a search query.
type QueryAnalysis struct {
	DetectedLanguage string   `json:"detected_language"`
	OriginalIntent   string   `json:"original_intent"`
	Entities         []string `json:"entities"`
	ExpandedTerms    []string `json:"expanded_terms"`
	TranslatedQuery  string   `json:"translated_query,omitempty"`
}

// SearchHit is one shaped result row.
type SearchHit struct {
	Score        float64        `json:"score"`
	RerankScore  *float64       `json:"rerank_score,omitempty"`
	EntityID     string         `json:"entity_id"`
	SourceApp    string         `json:"source_app"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Entities     []string       `json:"entities,omitempty"`
	KeyConcepts  []string       `json:"key_concepts,omitempty"`
	Language     string         `json:"language,omitempty"`
	MatchedChunk string         `json:"matched_chunk,omitempty"`
	Debug        map[string]any `json:"debug,omitempty"`
}

// RerankDoc is one candidate handed to the cross-encoder reranker.
type RerankDoc struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RerankResult is one scored row from the reranker.
type RerankResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
