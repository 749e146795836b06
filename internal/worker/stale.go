package worker

import (
	"context"
	"time"

	"imageforge/internal/domain"
)

// MonitorStale periodically logs records stuck in processing well past
// the lease horizon. Such records point at a worker that died mid-job
// before the broker redelivered, or at a redelivery loop that keeps
// failing silently. The monitor only observes; redelivery remains the
// broker's job.
func (o *Orchestrator) MonitorStale(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if olderThan <= 0 {
		olderThan = 2 * o.opts.LeaseDuration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stale, err := o.repo.FindStale(ctx, domain.StatusProcessing, olderThan, 50)
		if err != nil {
			o.logger.Warn().Err(err).Msg("stale scan failed")
			continue
		}
		for _, gen := range stale {
			o.logger.Warn().
				Str("generation_id", gen.ID).
				Str("user_id", gen.UserID).
				Time("updated_at", gen.UpdatedAt).
				Int("attempts", gen.Attempts).
				Msg("generation stuck in processing")
		}
	}
}
