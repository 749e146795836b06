package queue

import (
	"testing"

	"imageforge/internal/domain"
)

func sampleGeneration() *domain.Generation {
	return &domain.Generation{
		ID:          "gen_0001",
		UserID:      "user_1",
		Type:        domain.GenerationTypeTextToImage,
		Prompt:      "a lighthouse at dusk",
		Model:       "flux-schnell",
		Settings:    map[string]any{"width": 1024, "height": 1024},
		CostCredits: 1,
	}
}

func TestNewJobMessageDefaults(t *testing.T) {
	msg := NewJobMessage(sampleGeneration(), "", "")

	if msg.MessageID == "" {
		t.Fatal("expected a generated message id")
	}
	if msg.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", msg.Attempt)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority = %q, want normal", msg.Priority)
	}
	if msg.GenerationID != "gen_0001" {
		t.Errorf("GenerationID = %q", msg.GenerationID)
	}
}

func TestResubmitKeepsGenerationIdentity(t *testing.T) {
	msg := NewJobMessage(sampleGeneration(), "https://example.com/hook", PriorityHigh)
	next := msg.Resubmit()

	if next.MessageID == msg.MessageID {
		t.Error("resubmission must carry a fresh message id")
	}
	if next.GenerationID != msg.GenerationID {
		t.Error("resubmission must keep the generation id")
	}
	if next.Attempt != msg.Attempt+1 {
		t.Errorf("Attempt = %d, want %d", next.Attempt, msg.Attempt+1)
	}
	if next.Prompt != msg.Prompt || next.CallbackURL != msg.CallbackURL {
		t.Error("resubmission must keep the payload")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewJobMessage(sampleGeneration(), "https://example.com/hook", PriorityNormal)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.MessageID != msg.MessageID || got.GenerationID != msg.GenerationID {
		t.Error("identity fields changed across the wire")
	}
	if got.JobType != domain.GenerationTypeTextToImage {
		t.Errorf("JobType = %q", got.JobType)
	}
}

func TestDecodeMessageRejectsMissingIdentity(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"prompt":"x"}`)); err == nil {
		t.Fatal("expected error for message without identity fields")
	}
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestDecodeMessageNormalizesDefaults(t *testing.T) {
	raw := []byte(`{"message_id":"m1","generation_id":"g1","user_id":"u1","type":"text_to_image","prompt":"p","model":"flux-schnell"}`)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", msg.Attempt)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority = %q, want normal", msg.Priority)
	}
}

func TestSplitBatch(t *testing.T) {
	msgs := make([]*JobMessage, 205)
	for i := range msgs {
		msgs[i] = &JobMessage{MessageID: "m"}
	}

	chunks := splitBatch(msgs, 100)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 5 {
		t.Errorf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := splitBatch(nil, 100); len(got) != 0 {
		t.Errorf("empty input should yield no chunks, got %d", len(got))
	}
}
