package credit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"imageforge/internal/domain"
)

type fakeAccounts struct {
	acct       *domain.Account
	deductErr  error
	refundedBy int
}

func (f *fakeAccounts) Get(_ context.Context, userID string) (*domain.Account, error) {
	if f.acct == nil || f.acct.UserID != userID {
		return nil, domain.ErrNotFound
	}
	copied := *f.acct
	return &copied, nil
}

func (f *fakeAccounts) Deduct(_ context.Context, _ string, amount int) (int, error) {
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	if f.acct.CreditsRemaining < amount {
		return 0, domain.ErrInsufficientCredits
	}
	f.acct.CreditsRemaining -= amount
	return f.acct.CreditsRemaining, nil
}

func (f *fakeAccounts) Refund(_ context.Context, _ string, amount int) (int, error) {
	f.refundedBy += amount
	f.acct.CreditsRemaining += amount
	if f.acct.CreditsPerMonth != domain.UnlimitedCredits && f.acct.CreditsRemaining > f.acct.CreditsPerMonth {
		f.acct.CreditsRemaining = f.acct.CreditsPerMonth
	}
	return f.acct.CreditsRemaining, nil
}

type fakeUsage struct {
	entries []domain.UsageEntry
}

func (f *fakeUsage) Append(_ context.Context, entry *domain.UsageEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeUsage) ListByUser(context.Context, string, time.Time) ([]domain.UsageEntry, error) {
	return f.entries, nil
}

func newTestLedger(acct *domain.Account) (*Ledger, *fakeAccounts, *fakeUsage) {
	accounts := &fakeAccounts{acct: acct}
	usage := &fakeUsage{}
	return NewLedger(accounts, usage, zerolog.Nop()), accounts, usage
}

func TestDeductHappyPath(t *testing.T) {
	ledger, accounts, usage := newTestLedger(&domain.Account{
		UserID: "u1", Tier: "basic", CreditsRemaining: 10, CreditsPerMonth: 50,
	})

	balance, err := ledger.Deduct(context.Background(), "u1", 2, "gen_1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if balance != 8 {
		t.Errorf("balance = %d, want 8", balance)
	}
	if accounts.acct.CreditsRemaining != 8 {
		t.Errorf("stored balance = %d, want 8", accounts.acct.CreditsRemaining)
	}
	if len(usage.entries) != 1 || usage.entries[0].Action != domain.UsageActionGeneration || usage.entries[0].CreditsUsed != 2 {
		t.Errorf("usage entries = %+v", usage.entries)
	}
}

func TestDeductFailsClosed(t *testing.T) {
	ledger, _, usage := newTestLedger(&domain.Account{
		UserID: "u1", Tier: "free", CreditsRemaining: 1, CreditsPerMonth: 10,
	})

	if _, err := ledger.Deduct(context.Background(), "u1", 5, "gen_1"); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if len(usage.entries) != 0 {
		t.Error("failed deduction must not log usage")
	}
}

func TestUnlimitedTierSkipsArithmeticButLogsUsage(t *testing.T) {
	ledger, accounts, usage := newTestLedger(&domain.Account{
		UserID: "u1", Tier: "premium", CreditsRemaining: 0, CreditsPerMonth: domain.UnlimitedCredits,
	})

	balance, err := ledger.Deduct(context.Background(), "u1", 5, "gen_1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if balance != domain.UnlimitedCredits {
		t.Errorf("balance = %d, want unlimited sentinel", balance)
	}
	if len(usage.entries) != 1 || usage.entries[0].CreditsUsed != 0 {
		t.Errorf("usage entries = %+v, want one zero-credit entry", usage.entries)
	}

	if balance, err = ledger.Refund(context.Background(), "u1", 5, "generation_failed", "gen_1"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if balance != domain.UnlimitedCredits {
		t.Errorf("refund balance = %d, want unlimited sentinel", balance)
	}
	if accounts.refundedBy != 0 {
		t.Error("unlimited refund must not touch the balance")
	}
	if len(usage.entries) != 2 {
		t.Fatalf("usage entries = %d, want the refund logged too", len(usage.entries))
	}
	refund := usage.entries[1]
	if refund.Action != domain.UsageActionRefund || refund.CreditsUsed != 0 || refund.Reason != "generation_failed" {
		t.Errorf("refund entry = %+v, want zero-credit refund with reason", refund)
	}
}

func TestRefundLogsNegativeUsageWithReason(t *testing.T) {
	ledger, _, usage := newTestLedger(&domain.Account{
		UserID: "u1", Tier: "basic", CreditsRemaining: 3, CreditsPerMonth: 50,
	})

	balance, err := ledger.Refund(context.Background(), "u1", 2, "generation_failed", "gen_1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
	if len(usage.entries) != 1 {
		t.Fatalf("usage entries = %d, want 1", len(usage.entries))
	}
	entry := usage.entries[0]
	if entry.CreditsUsed != -2 || entry.Action != domain.UsageActionRefund || entry.Reason != "generation_failed" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRefundCappedAtMonthlyAllowance(t *testing.T) {
	ledger, accounts, _ := newTestLedger(&domain.Account{
		UserID: "u1", Tier: "basic", CreditsRemaining: 49, CreditsPerMonth: 50,
	})

	balance, err := ledger.Refund(context.Background(), "u1", 5, "generation_failed", "gen_1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if balance != 50 || accounts.acct.CreditsRemaining != 50 {
		t.Errorf("balance = %d, want capped at 50", balance)
	}
}

func TestCheckUnknownUser(t *testing.T) {
	ledger, _, _ := newTestLedger(&domain.Account{UserID: "other"})

	if _, err := ledger.Check(context.Background(), "u1", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
