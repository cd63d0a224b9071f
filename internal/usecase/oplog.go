package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openstream/octane/internal/adapter/ai"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/service/chunker"
)

// OplogWorker is pass 2: it drains the enrichment outbox, embeds chunks,
// generates summaries, and flips documents to ready.
type OplogWorker struct {
	Repo         domain.OplogRepository
	Store        domain.DocStore
	AI           domain.AIGateway
	Bus          domain.Bus
	Chunker      *chunker.Chunker
	Cleaner      *ai.ResponseCleaner
	DefaultIndex string
	ResultsTopic string
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

// Run polls the oplog until ctx is cancelled. Batch failures are logged and
// the loop keeps going; individual row failures are rescheduled.
func (w *OplogWorker) Run(ctx domain.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("oplog worker started",
		slog.Int("batch_size", w.BatchSize),
		slog.Duration("poll_interval", interval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("oplog worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				slog.Error("oplog batch failed", slog.Any("error", err))
			}
		}
	}
}

// ProcessBatch claims one batch of due rows and runs them concurrently.
// Each row progresses independently: one row's failure reschedules only
// that row.
func (w *OplogWorker) ProcessBatch(ctx domain.Context) error {
	limit := w.BatchSize
	if limit <= 0 {
		limit = 10
	}
	entries, err := w.Repo.ClaimBatch(ctx, limit)
	if err != nil {
		return fmt.Errorf("op=oplog.ProcessBatch: claim: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	observability.OplogClaimedTotal.Add(float64(len(entries)))
	slog.Info("processing oplog batch", slog.Int("rows", len(entries)))

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e domain.OplogEntry) {
			defer wg.Done()
			w.runOne(ctx, e)
		}(entry)
	}
	wg.Wait()
	return nil
}

func (w *OplogWorker) runOne(ctx domain.Context, e domain.OplogEntry) {
	if err := w.execute(ctx, e); err != nil {
		slog.Error("oplog job failed",
			slog.Int64("oplog_id", e.ID),
			slog.String("entity_id", e.EntityID),
			slog.Int("retry_count", e.RetryCount),
			slog.Any("error", err))
		if rerr := w.Repo.Reschedule(ctx, e.ID, e.RetryCount, w.MaxRetries, err.Error()); rerr != nil {
			slog.Error("oplog reschedule failed", slog.Int64("oplog_id", e.ID), slog.Any("error", rerr))
		}
		observability.OplogCompletedTotal.WithLabelValues("failure").Inc()
		return
	}
	if err := w.Repo.Complete(ctx, e.ID); err != nil {
		slog.Error("oplog complete failed", slog.Int64("oplog_id", e.ID), slog.Any("error", err))
		return
	}
	observability.OplogCompletedTotal.WithLabelValues("success").Inc()
}

func (w *OplogWorker) targetIndex(e domain.OplogEntry) string {
	if e.TargetIndex != "" {
		return e.TargetIndex
	}
	return w.DefaultIndex
}

// execute runs one embed/enrich job end to end.
func (w *OplogWorker) execute(ctx domain.Context, e domain.OplogEntry) error {
	if e.TaskType != domain.TaskEmbed && e.TaskType != domain.TaskEnrich {
		return fmt.Errorf("op=oplog.execute: unknown task type %q", e.TaskType)
	}
	p := e.Payload

	// Chunk here when pass 1 deferred it (semantic strategy) or sent none.
	chunks := p.Chunks
	if len(chunks) == 0 && p.Text != "" {
		strategy := p.ChunkingStrategy
		if strategy == "" {
			strategy = domain.ChunkingRecursive
		}
		slog.Info("worker chunking deferred text",
			slog.String("entity_id", e.EntityID),
			slog.String("strategy", strategy))
		var err error
		chunks, err = w.Chunker.Split(ctx, p.Text, strategy, p.ChunkSize, p.ChunkOverlap)
		if err != nil {
			return fmt.Errorf("op=oplog.execute: chunk: %w", err)
		}
	}

	var nested []domain.Chunk
	if len(chunks) > 0 {
		vectors, err := w.AI.Embed(ctx, chunks)
		if err != nil {
			return fmt.Errorf("op=oplog.execute: embed: %w", err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("op=oplog.execute: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
		nested = make([]domain.Chunk, len(chunks))
		for i := range chunks {
			nested[i] = domain.Chunk{TextChunk: chunks[i], Vector: vectors[i]}
		}
		slog.Info("generated embeddings",
			slog.String("entity_id", e.EntityID),
			slog.Int("chunks", len(nested)))
	}

	var enrichment domain.EnrichmentResult
	wantsSummary := false
	for _, name := range p.Enrichments {
		if name == domain.EnrichmentSummary {
			wantsSummary = true
		}
	}
	if wantsSummary && p.Text != "" {
		system := ai.SummarySystemPrompt(p.EntityType)
		raw, err := w.AI.Chat(ctx, system, ai.SummaryUserPrompt(p.Text), "")
		if err != nil {
			return fmt.Errorf("op=oplog.execute: summary: %w", err)
		}
		enrichment = w.Cleaner.ParseEnrichment(raw)
		if enrichment.Error != "" {
			slog.Warn("summary degraded to raw text",
				slog.String("entity_id", e.EntityID),
				slog.String("reason", enrichment.Error))
		}
	}

	fields := map[string]any{
		"chunks": nested,
		"status": domain.DocReady,
	}
	if enrichment.Summary != "" {
		fields["summary"] = enrichment.Summary
	}
	if len(enrichment.KeyConcepts) > 0 {
		fields["key_concepts"] = enrichment.KeyConcepts
	}
	if len(enrichment.Entities) > 0 {
		fields["entities"] = enrichment.Entities
	}
	if enrichment.Language != "" {
		fields["language"] = enrichment.Language
	}

	index := w.targetIndex(e)
	if err := w.Store.UpdateDocument(ctx, index, e.EntityID, fields); err != nil {
		return fmt.Errorf("op=oplog.execute: update document: %w", err)
	}
	slog.Info("pass 2 document ready",
		slog.String("entity_id", e.EntityID),
		slog.String("index", index))

	w.emitResult(ctx, e, enrichment.Summary, index)
	return nil
}

// emitResult publishes the summary event. Only summarized jobs emit; a
// publish failure never fails the row, the document is already ready.
func (w *OplogWorker) emitResult(ctx domain.Context, e domain.OplogEntry, summary, index string) {
	if summary == "" || w.Bus == nil || w.ResultsTopic == "" {
		return
	}
	event := domain.IngestResultEvent{
		EntityID:   e.EntityID,
		EntityType: e.Payload.EntityType,
		Summary:    summary,
		IndexName:  index,
		Status:     "completed",
	}
	if err := w.Bus.Publish(ctx, w.ResultsTopic, e.EntityID, event); err != nil {
		slog.Error("result event publish failed",
			slog.String("entity_id", e.EntityID),
			slog.Any("error", err))
	}
}
