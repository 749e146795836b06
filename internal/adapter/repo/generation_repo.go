package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imageforge/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

const generationColumns = `
id, user_id, type, status, prompt, negative_prompt, model, settings,
source_image_url, cost_credits, refund_issued, results, error_message,
attempts, created_at, updated_at, started_at, completed_at, failed_at,
processing_ms`

// Create inserts a new generation record in pending state.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	settings, err := json.Marshal(gen.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	query := `
INSERT INTO generations (id, user_id, type, status, prompt, negative_prompt, model, settings, source_image_url, cost_credits)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err = r.pool.Exec(ctx, query,
		gen.ID,
		gen.UserID,
		gen.Type,
		gen.Status,
		gen.Prompt,
		gen.NegativePrompt,
		gen.Model,
		settings,
		gen.SourceImageURL,
		gen.CostCredits,
	)
	if err != nil {
		return fmt.Errorf("%w: create generation: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1;`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns a page of the user's generations, newest first, and the
// total count for the filter.
func (r *GenerationRepositoryPG) ListByUser(ctx context.Context, userID string, status domain.GenerationStatus, offset, limit int) ([]domain.Generation, int, error) {
	if limit <= 0 {
		limit = 20
	}
	filter := `WHERE user_id = $1 AND ($2 = '' OR status = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM generations `+filter+`;`, userID, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count generations: %v", domain.ErrPersistence, err)
	}
	query := `SELECT ` + generationColumns + ` FROM generations ` + filter + `
ORDER BY created_at DESC OFFSET $3 LIMIT $4;`
	rows, err := r.pool.Query(ctx, query, userID, string(status), offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list generations: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()
	gens, err := r.scanMany(rows)
	if err != nil {
		return nil, 0, err
	}
	return gens, total, nil
}

// ListByStatus returns generations in the given status, oldest first.
func (r *GenerationRepositoryPG) ListByStatus(ctx context.Context, status domain.GenerationStatus, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + generationColumns + ` FROM generations
WHERE status = $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list by status: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// FindStale returns records stuck in a status longer than olderThan.
func (r *GenerationRepositoryPG) FindStale(ctx context.Context, status domain.GenerationStatus, olderThan time.Duration, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + generationColumns + ` FROM generations
WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3;`
	rows, err := r.pool.Query(ctx, query, status, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: find stale: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// BeginProcessing conditionally moves the record into processing. The guard
// admits pending, processing and failed (retry re-entry); started_at is only
// stamped on first entry so elapsed-time metrics reflect the first attempt.
func (r *GenerationRepositoryPG) BeginProcessing(ctx context.Context, id string) (*domain.Generation, error) {
	query := `
UPDATE generations
SET status = 'processing',
    started_at = COALESCE(started_at, NOW()),
    attempts = attempts + 1,
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing', 'failed')
RETURNING ` + generationColumns + `;`
	gen, err := r.scanOne(r.pool.QueryRow(ctx, query, id))
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// Distinguish a missing record from one already in a terminal state.
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return existing, fmt.Errorf("%w: generation %s is %s", domain.ErrInvalidTransition, id, existing.Status)
}

// Complete records results and timing. Guarded on the record still being in
// processing; replays cannot overwrite a completed record.
func (r *GenerationRepositoryPG) Complete(ctx context.Context, id string, results []domain.GenerationResult, processingMS int64) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	query := `
UPDATE generations
SET status = 'completed',
    results = $2,
    processing_ms = $3,
    error_message = '',
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, id, payload, processingMS)
	if err != nil {
		return fmt.Errorf("%w: complete generation: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: generation %s not in processing", domain.ErrInvalidTransition, id)
	}
	return nil
}

// MarkFailed transitions to failed. The refund gate is the durable
// refund_issued column: only the first terminal-failure observation flips it,
// and only that caller owes the user a refund.
func (r *GenerationRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	gated := `
UPDATE generations
SET status = 'failed',
    error_message = $2,
    refund_issued = TRUE,
    failed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND refund_issued = FALSE AND status NOT IN ('completed', 'cancelled');
`
	tag, err := r.pool.Exec(ctx, gated, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("%w: mark failed: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Refund already issued (or record terminal); still record the latest
	// failure for non-terminal records.
	repeat := `
UPDATE generations
SET status = 'failed',
    error_message = $2,
    failed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'cancelled');
`
	if _, err := r.pool.Exec(ctx, repeat, id, errMsg); err != nil {
		return false, fmt.Errorf("%w: mark failed: %v", domain.ErrPersistence, err)
	}
	return false, nil
}

// RecordError stamps the latest per-attempt error on an in-flight record.
// The status is untouched so a retry can still re-enter processing.
func (r *GenerationRepositoryPG) RecordError(ctx context.Context, id, errMsg string) error {
	query := `
UPDATE generations
SET error_message = $2,
    updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	if _, err := r.pool.Exec(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("%w: record error: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Cancel moves a pending record to cancelled. Only pending records can be
// cancelled; the refund gate is shared with MarkFailed.
func (r *GenerationRepositoryPG) Cancel(ctx context.Context, id string) (bool, error) {
	query := `
UPDATE generations
SET status = 'cancelled',
    refund_issued = TRUE,
    updated_at = NOW()
WHERE id = $1 AND status = 'pending' AND refund_issued = FALSE;
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%w: cancel generation: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("%w: generation %s not cancellable", domain.ErrInvalidTransition, id)
	}
	return true, nil
}

// ResetForResubmit returns a failed record to pending ahead of a manual
// dead-letter resubmission. The refund marker is left in place: credits were
// already returned and a resubmission never re-deducts.
func (r *GenerationRepositoryPG) ResetForResubmit(ctx context.Context, id string) error {
	query := `
UPDATE generations
SET status = 'pending',
    error_message = '',
    updated_at = NOW()
WHERE id = $1 AND status = 'failed';
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: reset for resubmit: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: generation %s is not failed", domain.ErrInvalidTransition, id)
	}
	return nil
}

func (r *GenerationRepositoryPG) scanOne(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	var settings, results []byte
	err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.Type,
		&gen.Status,
		&gen.Prompt,
		&gen.NegativePrompt,
		&gen.Model,
		&settings,
		&gen.SourceImageURL,
		&gen.CostCredits,
		&gen.RefundIssued,
		&results,
		&gen.ErrorMessage,
		&gen.Attempts,
		&gen.CreatedAt,
		&gen.UpdatedAt,
		&gen.StartedAt,
		&gen.CompletedAt,
		&gen.FailedAt,
		&gen.ProcessingMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan generation: %v", domain.ErrPersistence, err)
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &gen.Settings)
	}
	if len(results) > 0 {
		_ = json.Unmarshal(results, &gen.Results)
	}
	return &gen, nil
}

func (r *GenerationRepositoryPG) scanMany(rows pgx.Rows) ([]domain.Generation, error) {
	var gens []domain.Generation
	for rows.Next() {
		gen, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, *gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate generations: %v", domain.ErrPersistence, err)
	}
	return gens, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
