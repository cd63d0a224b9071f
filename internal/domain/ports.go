package domain

import "time"

// DocStore (port) — the lexical+vector document index.
type DocStore interface {
	EnsureIndex(ctx Context, name string, dims int) error
	UpsertDocument(ctx Context, index string, doc IndexedDocument) error
	// UpdateDocument applies a partial update to an existing document.
	UpdateDocument(ctx Context, index, entityID string, fields map[string]any) error
	// Search runs a raw query body and returns hits with score, source and
	// optional matched chunk from inner hits.
	Search(ctx Context, index string, body map[string]any) ([]StoreHit, error)
}

// StoreHit is one raw hit from the document store.
type StoreHit struct {
	Score        float64
	Source       IndexedDocument
	MatchedChunk string
}

// OplogRepository (port) — the transactional enrichment outbox.
type OplogRepository interface {
	// Insert creates a PENDING row unless a live row for the same
	// (entity_id, target_index, task_type) already exists.
	Insert(ctx Context, e OplogEntry) (int64, error)
	// ClaimBatch selects up to limit due rows with skip-locked semantics
	// and moves them to PROCESSING in the same transaction.
	ClaimBatch(ctx Context, limit int) ([]OplogEntry, error)
	Complete(ctx Context, id int64) error
	// Reschedule moves a row to RETRY with exponential backoff, or FAILED
	// once retry_count reaches maxRetries.
	Reschedule(ctx Context, id int64, retryCount int, maxRetries int, errMsg string) error
}

// Bus (port) — topic-keyed JSON publish.
type Bus interface {
	Publish(ctx Context, topic string, key string, value any) error
}

// AIGateway (port) — the remote intelligence service. Treated as idempotent
// and rate limited; callers retry with backoff on transient failures.
type AIGateway interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
	Chat(ctx Context, system, prompt, model string) (string, error)
	Rerank(ctx Context, query string, docs []RerankDoc) ([]RerankResult, error)
	AnalyzeQuery(ctx Context, query string) (QueryAnalysis, error)
}

// BlobStore (port) — opaque binary objects by bucket-relative key.
type BlobStore interface {
	Upload(ctx Context, objectKey, filePath string) (string, error)
	UploadBytes(ctx Context, objectKey string, data []byte, contentType string) (string, error)
	Download(ctx Context, objectKey, destPath string) error
}

// Locker (port) — single-holder per-video mutual exclusion with expiry.
type Locker interface {
	Acquire(ctx Context, videoID string) (bool, error)
	Release(ctx Context, videoID string)
	Extend(ctx Context, videoID string, extra time.Duration) (bool, error)
}

// RateLimiter (port) — script-atomic token bucket per caller key.
type RateLimiter interface {
	Allow(ctx Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}
