package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imageforge/internal/domain"
)

const (
	basePollInterval = 500 * time.Millisecond
	maxPollInterval  = 10 * time.Second
	defaultCeiling   = 300 * time.Second
)

// pollDelay returns how long to wait before the next status check.
// The delay grows with each attempt and doubles once a rate limit has
// been observed, capped at maxPollInterval.
func pollDelay(attempt int, rateLimited bool) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := basePollInterval * time.Duration(1<<uint(min(attempt, 6)))
	if rateLimited {
		delay *= 2
	}
	if delay > maxPollInterval {
		delay = maxPollInterval
	}
	return delay
}

// WaitForCompletion polls a prediction until it reaches a terminal status
// or the ceiling elapses. A rate-limited poll backs off harder but does
// not fail the wait. On ceiling expiry the prediction is cancelled best
// effort and ErrProviderTimeout is returned.
func (c *Client) WaitForCompletion(ctx context.Context, id string, ceiling time.Duration) (*Prediction, error) {
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	deadline := time.Now().Add(ceiling)

	var last *Prediction
	rateLimited := false
	for attempt := 0; ; attempt++ {
		pred, err := c.GetPrediction(ctx, id)
		switch {
		case err == nil:
			last = pred
			rateLimited = false
			if pred.Status.Terminal() {
				return pred, nil
			}
		case errors.Is(err, domain.ErrProviderRateLimit):
			rateLimited = true
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			return last, ctx.Err()
		default:
			return last, err
		}

		delay := pollDelay(attempt, rateLimited)
		if time.Now().Add(delay).After(deadline) {
			c.cancelQuietly(id)
			return last, fmt.Errorf("%w: prediction %s exceeded %s", domain.ErrProviderTimeout, id, ceiling)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) cancelQuietly(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.CancelPrediction(ctx, id)
}

// Outcome maps a terminal prediction onto domain errors. Succeeded
// predictions with no output are a provider failure, not a success.
func Outcome(pred *Prediction) error {
	if pred == nil {
		return fmt.Errorf("%w: no prediction state", domain.ErrProvider)
	}
	switch pred.Status {
	case StatusSucceeded:
		if len(pred.Output) == 0 {
			return fmt.Errorf("%w: prediction %s succeeded with no output", domain.ErrProvider, pred.ID)
		}
		return nil
	case StatusFailed:
		msg := pred.Error
		if msg == "" {
			msg = "prediction failed"
		}
		return fmt.Errorf("%w: %s", domain.ErrProvider, msg)
	case StatusCanceled:
		return fmt.Errorf("%w: prediction %s was canceled", domain.ErrProvider, pred.ID)
	default:
		return fmt.Errorf("%w: prediction %s still %s", domain.ErrProvider, pred.ID, pred.Status)
	}
}
