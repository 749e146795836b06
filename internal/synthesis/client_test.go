package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imageforge/internal/domain"
)

func TestCreatePredictionSendsSpec(t *testing.T) {
	var got predictionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predictions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("bad auth header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusStarting})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	pred, err := client.CreatePrediction(context.Background(), Spec{
		Prompt:         "a red fox",
		NegativePrompt: "blurry",
		Model:          "flux-dev",
		Settings:       map[string]any{"width": 1024},
		SourceImageURL: "https://example.com/src.png",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pred.ID != "p1" {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if got.Model != "flux-dev" {
		t.Fatalf("model not forwarded: %+v", got)
	}
	if got.Input["prompt"] != "a red fox" || got.Input["negative_prompt"] != "blurry" {
		t.Fatalf("prompt fields not forwarded: %+v", got.Input)
	}
	if got.Input["image"] != "https://example.com/src.png" {
		t.Fatalf("source image not forwarded: %+v", got.Input)
	}
	if got.Input["width"] != float64(1024) {
		t.Fatalf("settings not merged: %+v", got.Input)
	}
}

func TestClientMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	_, err := client.GetPrediction(context.Background(), "p1")
	if !errors.Is(err, domain.ErrProviderRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestClientSurfacesErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "invalid version"})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	_, err := client.CreatePrediction(context.Background(), Spec{Prompt: "x", Model: "flux-dev"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if want := "invalid version"; !strings.Contains(err.Error(), want) {
		t.Fatalf("detail missing from %v", err)
	}
}

func TestCreatePredictionRequiresToken(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://localhost"})
	_, err := client.CreatePrediction(context.Background(), Spec{Prompt: "x", Model: "flux-dev"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestDownloadOutputsToleratesPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	arts, err := client.DownloadOutputs(context.Background(),
		[]string{srv.URL + "/a.png", srv.URL + "/bad.png", srv.URL + "/b.png"}, 5*time.Second)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(arts))
	}
	if arts[0].Index != 0 || arts[1].Index != 2 {
		t.Fatalf("artifacts out of order: %+v", arts)
	}
}

func TestDownloadOutputsAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	_, err := client.DownloadOutputs(context.Background(), []string{srv.URL + "/a.png"}, 5*time.Second)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	if err := ValidateSettings("flux-dev", map[string]any{"width": 1024, "num_inference_steps": 28}); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
	if err := ValidateSettings("flux-dev", map[string]any{"width": 999}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad width accepted: %v", err)
	}
	if err := ValidateSettings("flux-pro", map[string]any{"num_inference_steps": 10}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("out of range steps accepted: %v", err)
	}
	if err := ValidateSettings("no-such-model", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown model accepted: %v", err)
	}
}
