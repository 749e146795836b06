package domain

import "time"

// UsageAction labels entries in the append-only usage log.
type UsageAction string

const (
	UsageActionGeneration UsageAction = "generation"
	UsageActionRefund     UsageAction = "refund"
)

// UsageEntry is one append-only usage-log row. Refunds are recorded with a
// negative CreditsUsed value.
type UsageEntry struct {
	ID           string
	UserID       string
	GenerationID string
	CreditsUsed  int
	Action       UsageAction
	Reason       string
	CreatedAt    time.Time
}
