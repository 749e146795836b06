package domain

import "time"

// GenerationType distinguishes the two synthesis modes.
type GenerationType string

const (
	GenerationTypeTextToImage  GenerationType = "text_to_image"
	GenerationTypeImageToImage GenerationType = "image_to_image"
)

func (t GenerationType) Valid() bool {
	return t == GenerationTypeTextToImage || t == GenerationTypeImageToImage
}

// GenerationStatus is the lifecycle state of a generation record.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
	StatusCancelled  GenerationStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
// other than a manual resubmission out of failed.
func (s GenerationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// GenerationResult is one stored output image.
type GenerationResult struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	CDNURL       string `json:"cdn_url,omitempty"`
	StorageKey   string `json:"storage_key"`
	FileSize     int64  `json:"file_size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Generation is the persistent record of one image generation request.
// CostCredits is stamped at submission from the model catalog and never
// recomputed afterwards.
type Generation struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Type           GenerationType     `json:"type"`
	Status         GenerationStatus   `json:"status"`
	Prompt         string             `json:"prompt"`
	NegativePrompt string             `json:"negative_prompt,omitempty"`
	Model          string             `json:"model"`
	Settings       map[string]any     `json:"settings,omitempty"`
	SourceImageURL string             `json:"source_image_url,omitempty"`
	CostCredits    int                `json:"cost_credits"`
	RefundIssued   bool               `json:"-"`
	Results        []GenerationResult `json:"results,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	Attempts       int                `json:"attempts"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	FailedAt       *time.Time         `json:"failed_at,omitempty"`
	ProcessingMS   *int64             `json:"processing_ms,omitempty"`
}

// PrimaryResult returns the first output, or nil when none exist.
func (g *Generation) PrimaryResult() *GenerationResult {
	if g == nil || len(g.Results) == 0 {
		return nil
	}
	return &g.Results[0]
}
