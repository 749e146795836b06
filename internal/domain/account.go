package domain

import "time"

// UnlimitedCredits is the sentinel balance reported for unlimited-tier
// accounts. Those accounts never have credits deducted or refunded, but usage
// is still logged for analytics.
const UnlimitedCredits = -1

// Account carries the credit balance for one user. The balance is only ever
// adjusted through the store's conditional update primitives.
type Account struct {
	UserID            string
	Tier              string
	CreditsRemaining  int
	CreditsPerMonth   int
	CreditsUsedPeriod int
	UpdatedAt         time.Time
}

// Unlimited reports whether the account bypasses balance arithmetic.
func (a *Account) Unlimited() bool {
	return a != nil && a.CreditsPerMonth == UnlimitedCredits
}
