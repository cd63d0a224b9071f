// Package usecase wires the ingestion passes and the search executor.
package usecase

import (
	"fmt"
	"log/slog"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/service/chunker"
	"github.com/openstream/octane/pkg/textx"
)

// IngestService is pass 1: sanitize, index the lexical document, queue the
// enrichment job.
type IngestService struct {
	Store        domain.DocStore
	Oplog        domain.OplogRepository
	Chunker      *chunker.Chunker
	DefaultIndex string
}

// NewIngestService wires pass 1.
func NewIngestService(store domain.DocStore, oplog domain.OplogRepository, ch *chunker.Chunker, defaultIndex string) *IngestService {
	return &IngestService{Store: store, Oplog: oplog, Chunker: ch, DefaultIndex: defaultIndex}
}

func (s *IngestService) targetIndex(sub domain.Submission) string {
	if sub.IndexName != "" {
		return sub.IndexName
	}
	return s.DefaultIndex
}

// ProcessSubmission handles one submission. The caller commits the bus
// offset only when this returns nil, so both the document upsert and the
// oplog insert are covered by at-least-once redelivery. Both writes are
// idempotent under replay: the upsert keys on entity id, the oplog insert
// dedupes on (entity_id, target_index, task_type) against live rows.
func (s *IngestService) ProcessSubmission(ctx domain.Context, sub domain.Submission) error {
	if sub.Operation != "index" {
		slog.Warn("ignoring unsupported operation",
			slog.String("operation", sub.Operation),
			slog.String("entity_id", sub.EntityID))
		observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "skipped").Inc()
		return nil
	}

	// Title stays verbatim; only the content body is HTML-stripped.
	content := textx.SanitizeText(textx.StripHTML(sub.Body()))
	index := s.targetIndex(sub)

	doc := domain.IndexedDocument{
		EntityID:  sub.EntityID,
		SourceApp: sub.SourceApp,
		Title:     sub.Payload.Title,
		Content:   content,
		Metadata:  sub.Payload.Metadata,
		Status:    domain.DocProcessingVectors,
	}
	if err := s.Store.UpsertDocument(ctx, index, doc); err != nil {
		observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "index_error").Inc()
		return fmt.Errorf("op=ingest.ProcessSubmission: upsert: %w", err)
	}
	slog.Info("pass 1 indexed lexical document",
		slog.String("entity_id", sub.EntityID),
		slog.String("index", index),
		slog.String("trace_id", sub.TraceID))

	if content == "" {
		slog.Warn("submission has no text content, skipping enrichment",
			slog.String("entity_id", sub.EntityID))
		observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "no_text").Inc()
		return nil
	}

	chunkSize := sub.ChunkSize
	if chunkSize <= 0 {
		chunkSize = domain.DefaultChunkSize
	}
	chunkOverlap := sub.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = domain.DefaultChunkOverlap
	}
	strategy := sub.ChunkingStrategy
	if strategy == "" {
		strategy = domain.ChunkingRecursive
	}

	// Semantic chunking needs embeddings, so it is deferred to pass 2;
	// recursive chunking is cheap and done here.
	var chunks []string
	if strategy != domain.ChunkingSemantic {
		var err error
		chunks, err = s.Chunker.Split(ctx, content, strategy, chunkSize, chunkOverlap)
		if err != nil {
			observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "chunk_error").Inc()
			return fmt.Errorf("op=ingest.ProcessSubmission: chunk: %w", err)
		}
	}

	taskType := domain.TaskEmbed
	if len(sub.Enrichments) > 0 {
		taskType = domain.TaskEnrich
	}
	entry := domain.OplogEntry{
		EntityID:    sub.EntityID,
		TaskType:    taskType,
		TargetIndex: sub.IndexName,
		Payload: domain.OplogPayload{
			EntityType:       sub.EntityType,
			Chunks:           chunks,
			Text:             content,
			Title:            sub.Payload.Title,
			Enrichments:      sub.Enrichments,
			ChunkSize:        chunkSize,
			ChunkOverlap:     chunkOverlap,
			ChunkingStrategy: strategy,
		},
	}
	id, err := s.Oplog.Insert(ctx, entry)
	if err != nil {
		observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "oplog_error").Inc()
		return fmt.Errorf("op=ingest.ProcessSubmission: oplog insert: %w", err)
	}
	if id == 0 {
		slog.Info("oplog insert deduplicated against live row",
			slog.String("entity_id", sub.EntityID),
			slog.String("task_type", taskType))
	} else {
		slog.Info("pass 2 job queued",
			slog.String("entity_id", sub.EntityID),
			slog.String("task_type", taskType),
			slog.String("strategy", strategy),
			slog.Int64("oplog_id", id))
	}
	observability.IngestSubmissionsTotal.WithLabelValues(sub.SourceApp, "queued").Inc()
	return nil
}
