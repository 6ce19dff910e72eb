package worker

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SF_WORKER_TOKEN", "svc-token")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.BatchSize != 10 || cfg.Executor != "process" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MemoryLimit != 512<<20 || cfg.CPULimit != 1.0 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigValidateRejectsUnknownExecutor(t *testing.T) {
	t.Setenv("SF_WORKER_TOKEN", "svc-token")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	t.Setenv("WORKER_EXECUTOR", "vm")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigRequiresWorkerToken(t *testing.T) {
	t.Setenv("SF_WORKER_TOKEN", "")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without worker token")
	}
}
