package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("invalid generation spec")
	ErrContentPolicy       = errors.New("prompt rejected by content policy")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProvider            = errors.New("synthesis provider failure")
	ErrProviderRateLimit   = errors.New("synthesis provider rate limited")
	ErrProviderTimeout     = errors.New("synthesis timed out")
	ErrPersistence         = errors.New("persistence failure")
	ErrTransport           = errors.New("queue transport failure")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Retryable reports whether a pipeline failure should count against the retry
// budget and be redelivered. Validation and content-policy rejections are
// permanent; rate limits are handled separately and never consume the budget.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrContentPolicy):
		return false
	case errors.Is(err, ErrProviderRateLimit):
		return false
	default:
		return true
	}
}
