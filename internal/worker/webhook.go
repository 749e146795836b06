package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"imageforge/internal/domain"
	"imageforge/internal/infra"
)

// Notifier delivers completion callbacks. Delivery is best effort; a
// failed callback never changes the outcome of a job.
type Notifier struct {
	httpClient *http.Client
	logger     infra.Logger
}

func NewNotifier(logger infra.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type callbackPayload struct {
	GenerationID string                    `json:"generation_id"`
	UserID       string                    `json:"user_id"`
	Status       domain.GenerationStatus   `json:"status"`
	Results      []domain.GenerationResult `json:"results,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// Notify posts the generation outcome to the callback URL, if any.
func (n *Notifier) Notify(ctx context.Context, url string, gen *domain.Generation) {
	if n == nil || url == "" || gen == nil {
		return
	}
	payload := callbackPayload{
		GenerationID: gen.ID,
		UserID:       gen.UserID,
		Status:       gen.Status,
		Results:      gen.Results,
		Error:        gen.ErrorMessage,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("encode callback payload")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("build callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("generation_id", gen.ID).Str("url", url).Msg("callback delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.logger.Warn().
			Str("generation_id", gen.ID).
			Str("url", url).
			Err(fmt.Errorf("callback http %d", resp.StatusCode)).
			Msg("callback rejected")
	}
}
