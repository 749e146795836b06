package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imageforge/internal/domain"
)

// AccountRepositoryPG implements domain.AccountRepository. All balance
// mutations are single conditional UPDATE statements so concurrent
// submissions and refunds stay linearizable per user.
type AccountRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates an account repository backed by PostgreSQL.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepositoryPG {
	return &AccountRepositoryPG{pool: pool}
}

// Get fetches the account for a user.
func (r *AccountRepositoryPG) Get(ctx context.Context, userID string) (*domain.Account, error) {
	query := `
SELECT user_id, tier, credits_remaining, credits_per_month, credits_used_period, updated_at
FROM accounts
WHERE user_id = $1;
`
	var acct domain.Account
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&acct.UserID,
		&acct.Tier,
		&acct.CreditsRemaining,
		&acct.CreditsPerMonth,
		&acct.CreditsUsedPeriod,
		&acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get account: %v", domain.ErrPersistence, err)
	}
	return &acct, nil
}

// Deduct atomically subtracts amount from the balance, failing closed when
// the balance is short. The WHERE guard is what keeps the balance >= 0 under
// concurrent submissions.
func (r *AccountRepositoryPG) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	query := `
UPDATE accounts
SET credits_remaining = credits_remaining - $2,
    credits_used_period = credits_used_period + $2,
    updated_at = NOW()
WHERE user_id = $1 AND credits_remaining >= $2
RETURNING credits_remaining;
`
	var balance int
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the account is missing or the balance is short.
			if _, getErr := r.Get(ctx, userID); getErr != nil {
				return 0, getErr
			}
			return 0, domain.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("%w: deduct credits: %v", domain.ErrPersistence, err)
	}
	return balance, nil
}

// Refund atomically returns amount to the balance, capped at the monthly
// allowance.
func (r *AccountRepositoryPG) Refund(ctx context.Context, userID string, amount int) (int, error) {
	query := `
UPDATE accounts
SET credits_remaining = LEAST(credits_remaining + $2, credits_per_month),
    credits_used_period = GREATEST(credits_used_period - $2, 0),
    updated_at = NOW()
WHERE user_id = $1
RETURNING credits_remaining;
`
	var balance int
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("%w: refund credits: %v", domain.ErrPersistence, err)
	}
	return balance, nil
}

var _ domain.AccountRepository = (*AccountRepositoryPG)(nil)
