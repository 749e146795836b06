package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"imageforge/internal/domain"
)

// Priority tags a message for filtering. It carries no scheduler reordering
// guarantee.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// JobMessage is the immutable wire-format record describing one generation
// attempt. Each enqueue (including retries and dead-letter resubmissions)
// carries a fresh MessageID; GenerationID stays stable across all of them.
type JobMessage struct {
	MessageID      string                `json:"message_id"`
	GenerationID   string                `json:"generation_id"`
	UserID         string                `json:"user_id"`
	JobType        domain.GenerationType `json:"type"`
	Prompt         string                `json:"prompt"`
	NegativePrompt string                `json:"negative_prompt,omitempty"`
	Model          string                `json:"model"`
	Settings       map[string]any        `json:"settings,omitempty"`
	SourceImageURL string                `json:"source_image_url,omitempty"`
	CallbackURL    string                `json:"callback_url,omitempty"`
	Priority       Priority              `json:"priority"`
	Attempt        int                   `json:"attempt"`
	CreatedAt      time.Time             `json:"created_at"`
}

// NewJobMessage builds a first-attempt message for a generation record.
func NewJobMessage(gen *domain.Generation, callbackURL string, priority Priority) *JobMessage {
	if priority == "" {
		priority = PriorityNormal
	}
	return &JobMessage{
		MessageID:      uuid.NewString(),
		GenerationID:   gen.ID,
		UserID:         gen.UserID,
		JobType:        gen.Type,
		Prompt:         gen.Prompt,
		NegativePrompt: gen.NegativePrompt,
		Model:          gen.Model,
		Settings:       gen.Settings,
		CallbackURL:    callbackURL,
		Priority:       priority,
		Attempt:        1,
		CreatedAt:      time.Now().UTC(),
	}
}

// Resubmit returns a copy carrying the next logical attempt under a fresh
// message identity. Used by the dead-letter resubmission path.
func (m *JobMessage) Resubmit() *JobMessage {
	next := *m
	next.MessageID = uuid.NewString()
	next.Attempt = m.Attempt + 1
	next.CreatedAt = time.Now().UTC()
	return &next
}

// Encode serializes the message for the broker.
func (m *JobMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode job message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a broker payload back into a JobMessage.
func DecodeMessage(data []byte) (*JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode job message: %w", err)
	}
	if m.MessageID == "" || m.GenerationID == "" {
		return nil, fmt.Errorf("decode job message: missing identity fields")
	}
	if m.Attempt < 1 {
		m.Attempt = 1
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	return &m, nil
}
