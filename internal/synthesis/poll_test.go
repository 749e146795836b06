package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"imageforge/internal/domain"
)

func TestPollDelayGrowsAndCaps(t *testing.T) {
	if got := pollDelay(0, false); got != 500*time.Millisecond {
		t.Fatalf("attempt 0: got %s", got)
	}
	if got := pollDelay(1, false); got != time.Second {
		t.Fatalf("attempt 1: got %s", got)
	}
	for attempt := 0; attempt < 100; attempt++ {
		if got := pollDelay(attempt, true); got > maxPollInterval {
			t.Fatalf("attempt %d rate limited: %s exceeds cap", attempt, got)
		}
	}
	if got := pollDelay(50, false); got != maxPollInterval {
		t.Fatalf("large attempt should hit cap, got %s", got)
	}
}

func TestPollDelayRateLimitedBacksOffHarder(t *testing.T) {
	plain := pollDelay(2, false)
	limited := pollDelay(2, true)
	if limited <= plain {
		t.Fatalf("rate limited delay %s should exceed plain %s", limited, plain)
	}
}

func TestWaitForCompletionReturnsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := StatusProcessing
		var output []string
		if n >= 3 {
			status = StatusSucceeded
			output = []string{"https://cdn.example.com/out.png"}
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: status, Output: output})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	pred, err := client.WaitForCompletion(context.Background(), "p1", 30*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if pred.Status != StatusSucceeded || len(pred.Output) != 1 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestWaitForCompletionCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusProcessing})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	_, err := client.WaitForCompletion(context.Background(), "p1", 200*time.Millisecond)
	if !errors.Is(err, domain.ErrProviderTimeout) {
		t.Fatalf("expected provider timeout, got %v", err)
	}
}

func TestWaitForCompletionSurvivesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Prediction{ID: "p1", Status: StatusSucceeded, Output: []string{"u"}})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, APIToken: "tok"})
	pred, err := client.WaitForCompletion(context.Background(), "p1", 30*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if pred.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", pred.Status)
	}
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		name string
		pred *Prediction
		want error
	}{
		{"nil", nil, domain.ErrProvider},
		{"succeeded", &Prediction{Status: StatusSucceeded, Output: []string{"u"}}, nil},
		{"succeeded empty", &Prediction{ID: "p", Status: StatusSucceeded}, domain.ErrProvider},
		{"failed", &Prediction{Status: StatusFailed, Error: "NSFW detected"}, domain.ErrProvider},
		{"canceled", &Prediction{ID: "p", Status: StatusCanceled}, domain.ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Outcome(tc.pred)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}
