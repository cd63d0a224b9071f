package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openstream/octane/internal/domain"
)

// Schema is the DDL for the oplog table. The partial index keeps the due-row
// scan cheap regardless of how many completed rows accumulate.
const Schema = `
CREATE TABLE IF NOT EXISTS ai_oplog (
    id              BIGSERIAL PRIMARY KEY,
    entity_id       TEXT NOT NULL,
    task_type       TEXT NOT NULL,
    payload         JSONB NOT NULL,
    target_index    TEXT,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    retry_count     INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    error_message   TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ai_oplog_due
    ON ai_oplog (status, next_attempt_at)
    WHERE status IN ('PENDING', 'RETRY');
`

// OplogRepo implements domain.OplogRepository on PostgreSQL.
type OplogRepo struct{ Pool PgxPool }

// NewOplogRepo constructs an OplogRepo with the given pool.
func NewOplogRepo(p PgxPool) *OplogRepo { return &OplogRepo{Pool: p} }

// EnsureSchema creates the oplog table and indexes if they do not exist.
func (r *OplogRepo) EnsureSchema(ctx domain.Context) error {
	if _, err := r.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("op=oplog.ensure_schema: %w", err)
	}
	return nil
}

// Insert creates a PENDING row unless a live row for the same
// (entity_id, target_index, task_type) already exists; re-submitting an
// entity while its previous job is in flight must not double-process it.
// Returns 0 when deduplicated.
func (r *OplogRepo) Insert(ctx domain.Context, e domain.OplogEntry) (int64, error) {
	tracer := otel.Tracer("repo.oplog")
	ctx, span := tracer.Start(ctx, "oplog.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("entity_id", e.EntityID),
		attribute.String("task_type", e.TaskType),
	)

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("op=oplog.insert: marshal payload: %w", err)
	}

	q := `
INSERT INTO ai_oplog (entity_id, task_type, payload, target_index)
SELECT $1, $2, $3, $4
WHERE NOT EXISTS (
    SELECT 1 FROM ai_oplog
    WHERE entity_id = $1
      AND task_type = $2
      AND target_index IS NOT DISTINCT FROM $4
      AND status IN ('PENDING', 'PROCESSING', 'RETRY')
)
RETURNING id`

	var targetIndex *string
	if e.TargetIndex != "" {
		targetIndex = &e.TargetIndex
	}

	var id int64
	err = r.Pool.QueryRow(ctx, q, e.EntityID, e.TaskType, payload, targetIndex).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("op=oplog.insert: %w", err)
	}
	return id, nil
}

// ClaimBatch atomically moves up to limit due rows to PROCESSING and returns
// them. Skip-locked selection lets concurrent workers drain the table
// without claiming the same row twice.
func (r *OplogRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.OplogEntry, error) {
	tracer := otel.Tracer("repo.oplog")
	ctx, span := tracer.Start(ctx, "oplog.ClaimBatch")
	defer span.End()

	q := `
UPDATE ai_oplog
SET status = 'PROCESSING', updated_at = NOW()
WHERE id IN (
    SELECT id FROM ai_oplog
    WHERE status IN ('PENDING', 'RETRY')
      AND next_attempt_at <= NOW()
    FOR UPDATE SKIP LOCKED
    LIMIT $1
)
RETURNING id, entity_id, task_type, payload, retry_count, target_index`

	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=oplog.claim_batch: %w", err)
	}
	defer rows.Close()

	var entries []domain.OplogEntry
	for rows.Next() {
		var (
			e           domain.OplogEntry
			payload     []byte
			targetIndex *string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.TaskType, &payload, &e.RetryCount, &targetIndex); err != nil {
			return nil, fmt.Errorf("op=oplog.claim_batch: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("op=oplog.claim_batch: payload id=%d: %w", e.ID, err)
		}
		if targetIndex != nil {
			e.TargetIndex = *targetIndex
		}
		e.Status = domain.OplogProcessing
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=oplog.claim_batch: %w", err)
	}
	return entries, nil
}

// Complete marks a row COMPLETED.
func (r *OplogRepo) Complete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.oplog")
	ctx, span := tracer.Start(ctx, "oplog.Complete")
	defer span.End()

	q := `UPDATE ai_oplog SET status = 'COMPLETED', updated_at = NOW() WHERE id = $1`
	if _, err := r.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("op=oplog.complete: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt. The row moves to RETRY with a doubled
// delay per attempt, or to FAILED once the retry budget is exhausted.
func (r *OplogRepo) Reschedule(ctx domain.Context, id int64, retryCount int, maxRetries int, errMsg string) error {
	tracer := otel.Tracer("repo.oplog")
	ctx, span := tracer.Start(ctx, "oplog.Reschedule")
	defer span.End()

	newCount := retryCount + 1
	if newCount >= maxRetries {
		q := `
UPDATE ai_oplog
SET status = 'FAILED', retry_count = $1, error_message = $2, updated_at = NOW()
WHERE id = $3`
		if _, err := r.Pool.Exec(ctx, q, newCount, errMsg, id); err != nil {
			return fmt.Errorf("op=oplog.reschedule: %w", err)
		}
		return nil
	}

	delay := domain.OplogEntry{RetryCount: newCount}.RetryDelay()
	q := `
UPDATE ai_oplog
SET status = 'RETRY',
    retry_count = $1,
    next_attempt_at = NOW() + ($2 || ' seconds')::interval,
    error_message = $3,
    updated_at = NOW()
WHERE id = $4`
	seconds := fmt.Sprintf("%d", int64(delay/time.Second))
	if _, err := r.Pool.Exec(ctx, q, newCount, seconds, errMsg, id); err != nil {
		return fmt.Errorf("op=oplog.reschedule: %w", err)
	}
	return nil
}
