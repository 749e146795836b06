package domain

import (
	"context"
	"time"
)

// GenerationRepository defines persistence for generation records. Status
// mutations are conditional on the current status so that concurrent
// redeliveries and manual resubmissions cannot race past a terminal state.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListByUser(ctx context.Context, userID string, status GenerationStatus, offset, limit int) ([]Generation, int, error)
	ListByStatus(ctx context.Context, status GenerationStatus, limit int) ([]Generation, error)
	// FindStale returns records that have sat in the given status longer than
	// olderThan, oldest first. Used to spot stuck jobs.
	FindStale(ctx context.Context, status GenerationStatus, olderThan time.Duration, limit int) ([]Generation, error)

	// BeginProcessing transitions the record to processing. Allowed from
	// pending, processing and failed (retry re-entry); started_at is stamped
	// only on first entry. Returns ErrInvalidTransition when the record is
	// already completed or cancelled.
	BeginProcessing(ctx context.Context, id string) (*Generation, error)

	// Complete records the results and timing. Guarded on the record still
	// being in processing; a replayed message cannot overwrite a completed
	// record.
	Complete(ctx context.Context, id string, results []GenerationResult, processingMS int64) error

	// MarkFailed transitions to failed and reports whether this observation
	// is the first terminal failure for the record (the durable refund gate).
	MarkFailed(ctx context.Context, id, errMsg string) (refundDue bool, err error)

	// RecordError stamps the latest attempt's error on a record that is
	// still processing, without changing its status. Gives operators the
	// failure text while the job waits for its next delivery.
	RecordError(ctx context.Context, id, errMsg string) error

	// Cancel moves a pending record to cancelled and reports whether a refund
	// is owed. No-op with ErrInvalidTransition once the record left pending.
	Cancel(ctx context.Context, id string) (refundDue bool, err error)

	// ResetForResubmit returns a failed record to pending ahead of a manual
	// dead-letter resubmission.
	ResetForResubmit(ctx context.Context, id string) error
}

// AccountRepository exposes the atomic balance primitives. Implementations
// must never read-modify-write the balance.
type AccountRepository interface {
	Get(ctx context.Context, userID string) (*Account, error)
	// Deduct atomically subtracts amount, failing closed with
	// ErrInsufficientCredits when the balance is short.
	Deduct(ctx context.Context, userID string, amount int) (newBalance int, err error)
	// Refund atomically adds amount back, capped at the account's monthly
	// allowance.
	Refund(ctx context.Context, userID string, amount int) (newBalance int, err error)
}

// UsageLogRepository is the append-only usage log.
type UsageLogRepository interface {
	Append(ctx context.Context, entry *UsageEntry) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]UsageEntry, error)
}
