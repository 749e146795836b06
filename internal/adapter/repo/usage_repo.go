package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"imageforge/internal/domain"
)

// UsageLogRepositoryPG implements domain.UsageLogRepository as an append-only
// table.
type UsageLogRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUsageLogRepository creates a usage log repository backed by PostgreSQL.
func NewUsageLogRepository(pool *pgxpool.Pool) *UsageLogRepositoryPG {
	return &UsageLogRepositoryPG{pool: pool}
}

// Append inserts one usage entry.
func (r *UsageLogRepositoryPG) Append(ctx context.Context, entry *domain.UsageEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `
INSERT INTO usage_log (id, user_id, generation_id, credits_used, action, reason)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.GenerationID,
		entry.CreditsUsed,
		entry.Action,
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("%w: append usage: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListByUser returns usage entries for a user since the given time, newest
// first.
func (r *UsageLogRepositoryPG) ListByUser(ctx context.Context, userID string, since time.Time) ([]domain.UsageEntry, error) {
	query := `
SELECT id, user_id, generation_id, credits_used, action, reason, created_at
FROM usage_log
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list usage: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []domain.UsageEntry
	for rows.Next() {
		var e domain.UsageEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.GenerationID, &e.CreditsUsed, &e.Action, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan usage: %v", domain.ErrPersistence, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate usage: %v", domain.ErrPersistence, err)
	}
	return entries, nil
}

var _ domain.UsageLogRepository = (*UsageLogRepositoryPG)(nil)
