package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imageforge/internal/domain"
)

type ClientOptions struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the prediction API. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(opts ClientOptions) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIToken),
	}
}

type predictionRequest struct {
	Model string         `json:"model"`
	Input map[string]any `json:"input"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// CreatePrediction submits a new prediction and returns it in its initial
// state. Callers poll with GetPrediction until a terminal status.
func (c *Client) CreatePrediction(ctx context.Context, spec Spec) (*Prediction, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: API token is missing", domain.ErrProvider)
	}
	input := map[string]any{"prompt": spec.Prompt}
	if negative := strings.TrimSpace(spec.NegativePrompt); negative != "" {
		input["negative_prompt"] = negative
	}
	if spec.SourceImageURL != "" {
		input["image"] = spec.SourceImageURL
	}
	for k, v := range spec.Settings {
		input[k] = v
	}
	payload := predictionRequest{Model: spec.Model, Input: input}

	var pred Prediction
	if err := c.do(ctx, http.MethodPost, "/predictions", payload, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("%w: prediction response missing id", domain.ErrProvider)
	}
	return &pred, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: prediction id required", domain.ErrProvider)
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+id, nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// CancelPrediction asks the provider to stop a running prediction.
// Best effort; the prediction may still reach succeeded.
func (c *Client) CancelPrediction(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: prediction id required", domain.ErrProvider)
	}
	return c.do(ctx, http.MethodPost, "/predictions/"+id+"/cancel", nil, nil)
}

// Download fetches one output artifact. The provider hosts outputs on
// expiring URLs, so failures here are not retried against a stale URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build download request: %v", domain.ErrProvider, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download output: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download output: http %d", domain.ErrProvider, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read output body: %v", domain.ErrProvider, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrProvider, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, method, path)
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrProvider, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s %s", domain.ErrProviderRateLimit, method, path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Detail != "" {
			return fmt.Errorf("%w: http %d: %s", domain.ErrProvider, resp.StatusCode, apiErr.Detail)
		}
		return fmt.Errorf("%w: http %d", domain.ErrProvider, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err)
	}
	return nil
}
