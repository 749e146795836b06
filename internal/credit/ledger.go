package credit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"imageforge/internal/domain"
)

// CheckResult reports whether a balance covers a requested amount.
type CheckResult struct {
	Sufficient bool
	Balance    int
	Unlimited  bool
	Tier       string
}

// Ledger couples the atomic balance primitives with the append-only usage
// log. Refund idempotence per generation is enforced by the caller through
// the record's durable refund gate, not here.
type Ledger struct {
	accounts domain.AccountRepository
	usage    domain.UsageLogRepository
	logger   zerolog.Logger
}

// NewLedger wires the ledger over its repositories.
func NewLedger(accounts domain.AccountRepository, usage domain.UsageLogRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{accounts: accounts, usage: usage, logger: logger}
}

// Check reports, read-only, whether the user can afford amount.
func (l *Ledger) Check(ctx context.Context, userID string, amount int) (CheckResult, error) {
	acct, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}
	if acct.Unlimited() {
		return CheckResult{Sufficient: true, Balance: domain.UnlimitedCredits, Unlimited: true, Tier: acct.Tier}, nil
	}
	return CheckResult{
		Sufficient: acct.CreditsRemaining >= amount,
		Balance:    acct.CreditsRemaining,
		Tier:       acct.Tier,
	}, nil
}

// Deduct charges amount against the balance, failing closed on insufficient
// credits. Unlimited-tier accounts skip the arithmetic but still get a usage
// entry for analytics.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int, generationID string) (int, error) {
	acct, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	balance := domain.UnlimitedCredits
	logged := amount
	if acct.Unlimited() {
		logged = 0
	} else {
		balance, err = l.accounts.Deduct(ctx, userID, amount)
		if err != nil {
			return 0, err
		}
	}

	entry := &domain.UsageEntry{
		UserID:       userID,
		GenerationID: generationID,
		CreditsUsed:  logged,
		Action:       domain.UsageActionGeneration,
	}
	if err := l.usage.Append(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Msg("ledger: usage log append failed")
	}

	l.logger.Info().
		Str("user_id", userID).
		Str("generation_id", generationID).
		Int("credits", logged).
		Int("balance", balance).
		Msg("ledger: credits deducted")
	return balance, nil
}

// Refund returns amount to the balance with an audit reason. Unlimited-tier
// accounts skip the arithmetic but, like Deduct, still get a zero-credit
// usage entry so the audit trail stays complete.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int, reason, generationID string) (int, error) {
	acct, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	balance := domain.UnlimitedCredits
	logged := -amount
	if acct.Unlimited() {
		logged = 0
	} else {
		balance, err = l.accounts.Refund(ctx, userID, amount)
		if err != nil {
			return 0, fmt.Errorf("refund %d credits to %s: %w", amount, userID, err)
		}
	}

	entry := &domain.UsageEntry{
		UserID:       userID,
		GenerationID: generationID,
		CreditsUsed:  logged,
		Action:       domain.UsageActionRefund,
		Reason:       reason,
	}
	if err := l.usage.Append(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Msg("ledger: refund log append failed")
	}

	l.logger.Info().
		Str("user_id", userID).
		Str("generation_id", generationID).
		Int("credits", logged).
		Int("balance", balance).
		Str("reason", reason).
		Msg("ledger: credits refunded")
	return balance, nil
}
