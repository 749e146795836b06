package synthesis

// Status enumerates provider-side prediction states.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the provider will not move the prediction again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Spec describes one generation request to the provider. Settings is an
// opaque per-model parameter bag validated at the submission boundary.
type Spec struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Settings       map[string]any
	SourceImageURL string
}

// Metrics carries provider-reported timing.
type Metrics struct {
	PredictTime float64 `json:"predict_time"`
}

// Prediction is the provider's view of a generation job.
type Prediction struct {
	ID      string   `json:"id"`
	Status  Status   `json:"status"`
	Output  []string `json:"output"`
	Error   string   `json:"error"`
	Metrics Metrics  `json:"metrics"`
}
