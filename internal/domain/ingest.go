// Package domain holds the platform's entities, sentinel errors, and ports.
//
// Entities are transport-agnostic; adapters translate them to and from the
// wire formats of the document store, the relational database, and the bus.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Entity types accepted by the ingestion surface.
const (
	EntityArticle         = "article"
	EntityBlogPost        = "blog_post"
	EntityVideo           = "video"
	EntityVideoTranscript = "video_transcript"
)

// Chunking strategies.
const (
	ChunkingRecursive = "recursive"
	ChunkingSemantic  = "semantic"
)

// Enrichment names requested on a Submission.
const (
	EnrichmentSummary = "summary"
)

// SubmissionPayload carries the content body of a Submission.
// Text and Content are interchangeable; Content wins when both are set.
type SubmissionPayload struct {
	Title    string         `json:"title"`
	Text     string         `json:"text,omitempty"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Submission is the unit of work entering pass 1.
// Identity is (IndexName, EntityID).
type Submission struct {
	TraceID          string            `json:"trace_id"`
	SourceApp        string            `json:"source_app" validate:"required"`
	EntityID         string            `json:"entity_id" validate:"required"`
	EntityType       string            `json:"entity_type" validate:"required,oneof=article blog_post video video_transcript"`
	Operation        string            `json:"operation" validate:"required,oneof=index"`
	Timestamp        string            `json:"timestamp,omitempty"`
	Payload          SubmissionPayload `json:"payload"`
	Enrichments      []string          `json:"enrichments,omitempty"`
	IndexName        string            `json:"index_name,omitempty"`
	ChunkingStrategy string            `json:"chunking_strategy,omitempty"`
	ChunkSize        int               `json:"chunk_size,omitempty"`
	ChunkOverlap     int               `json:"chunk_overlap,omitempty"`
}

// Body returns the effective content body of the submission.
func (s Submission) Body() string {
	if s.Payload.Content != "" {
		return s.Payload.Content
	}
	return s.Payload.Text
}

// WantsEnrichment reports whether the submission requested the named enrichment.
func (s Submission) WantsEnrichment(name string) bool {
	for _, e := range s.Enrichments {
		if e == name {
			return true
		}
	}
	return false
}

// Chunk is one embedded slice of a document, nested for per-chunk kNN.
type Chunk struct {
	TextChunk string    `json:"text_chunk"`
	Vector    []float32 `json:"vector,omitempty"`
}

// Document status values. Search filters on DocReady.
const (
	DocProcessingVectors = "processing_vectors"
	DocReady             = "ready"
)

// IndexedDocument is the lexical+vector document stored per entity.
// Pass 1 writes the lexical fields with status processing_vectors;
// pass 2 adds vectors and structured fields and flips status to ready.
type IndexedDocument struct {
	EntityID    string         `json:"entity_id"`
	SourceApp   string         `json:"source_app"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	Summary     string         `json:"summary,omitempty"`
	KeyConcepts []string       `json:"key_concepts,omitempty"`
	Entities    []string       `json:"entities,omitempty"`
	Language    string         `json:"language,omitempty"`
	PublishedAt string         `json:"published_at,omitempty"`
	Chunks      []Chunk        `json:"chunks,omitempty"`
}

// Oplog task types.
const (
	TaskEmbed  = "embed"
	TaskEnrich = "enrich"
)

// Oplog entry statuses.
const (
	OplogPending    = "PENDING"
	OplogProcessing = "PROCESSING"
	OplogRetry      = "RETRY"
	OplogCompleted  = "COMPLETED"
	OplogFailed     = "FAILED"
)

// OplogPayload carries everything pass 2 needs without re-reading the bus.
type OplogPayload struct {
	EntityType       string   `json:"entity_type"`
	Chunks           []string `json:"chunks,omitempty"`
	Text             string   `json:"text"`
	Title            string   `json:"title,omitempty"`
	Enrichments      []string `json:"enrichments,omitempty"`
	ChunkSize        int      `json:"chunk_size"`
	ChunkOverlap     int      `json:"chunk_overlap"`
	ChunkingStrategy string   `json:"chunking_strategy"`
}

// OplogEntry is one row of the transactional enrichment outbox.
//
// Lifecycle: PENDING -> PROCESSING -> COMPLETED, or RETRY with
// next_attempt_at = now + 2^retry_count * 60s, or FAILED at the retry cap.
type OplogEntry struct {
	ID            int64
	EntityID      string
	TaskType      string
	Payload       OplogPayload
	TargetIndex   string
	Status        string
	RetryCount    int
	NextAttemptAt time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RetryDelay returns the backoff delay for the entry's next attempt.
// The ladder doubles per retry: 60s, 120s, 240s, ...
func (e OplogEntry) RetryDelay() time.Duration {
	return time.Duration(1<<uint(e.RetryCount)) * 60 * time.Second
}

// EnrichmentResult is the structured summary produced by the AI gateway.
// Summary mirrors Overview when the model only returns the latter.
type EnrichmentResult struct {
	Title       string   `json:"title,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Overview    string   `json:"overview,omitempty"`
	KeyConcepts []string `json:"key_concepts,omitempty"`
	KeyMoments  []string `json:"key_moments,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Language    string   `json:"language,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// IngestResultEvent is published to the results topic after pass 2.
type IngestResultEvent struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Summary    string `json:"summary,omitempty"`
	IndexName  string `json:"index_name"`
	Status     string `json:"status"`
}

// RawJSON round-trips arbitrary JSON payload columns.
type RawJSON = json.RawMessage

// Context is an alias so adapters and usecases share one signature shape.
type Context = context.Context
