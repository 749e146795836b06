package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/imageforge")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("WorkerConcurrency = %d, want 5", cfg.WorkerConcurrency)
	}
	if cfg.WorkerMaxRetries != 3 {
		t.Errorf("WorkerMaxRetries = %d, want 3", cfg.WorkerMaxRetries)
	}
	if cfg.ReceiveWait != 60*time.Second {
		t.Errorf("ReceiveWait = %s, want 60s", cfg.ReceiveWait)
	}
	if cfg.SynthesisPollCeiling != 300*time.Second {
		t.Errorf("SynthesisPollCeiling = %s, want 300s", cfg.SynthesisPollCeiling)
	}
	if cfg.QueueName != "generations" {
		t.Errorf("QueueName = %q, want generations", cfg.QueueName)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/imageforge")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("LEASE_SECONDS", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorkerConcurrency != 12 {
		t.Errorf("WorkerConcurrency = %d, want 12", cfg.WorkerConcurrency)
	}
	if cfg.LeaseDuration != 2*time.Minute {
		t.Errorf("LeaseDuration = %s, want 2m", cfg.LeaseDuration)
	}
}

func TestLoadConfigRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/imageforge")
	t.Setenv("WORKER_CONCURRENCY", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero worker concurrency")
	}
}
