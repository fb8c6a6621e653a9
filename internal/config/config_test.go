package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:              "8100",
		Env:               "development",
		DatabaseURL:       "postgres://localhost/pabridge",
		WorkerID:          "test-worker",
		WorkerCount:       4,
		PollInterval:      10 * time.Second,
		PollBatchSize:     100,
		SourceTable:       "intake_message",
		SweepInterval:     time.Minute,
		LockTimeout:       10 * time.Minute,
		LeaseStaleness:    90 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxAttempts:       5,
		LetterInterval:    30 * time.Second,
		ESMDBaseURL:       "https://esmd.example.com",
		ESMDTimeout:       30 * time.Second,
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected DATABASE_URL error, got: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pabridge")
	t.Setenv("ESMD_BASE_URL", "https://esmd.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8100" {
		t.Errorf("Port = %q, want 8100", cfg.Port)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
	if cfg.LeaseStaleness != 90*time.Second {
		t.Errorf("LeaseStaleness = %s, want 90s", cfg.LeaseStaleness)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if !cfg.FailFastPermanent {
		t.Error("FailFastPermanent should default to true")
	}
	if cfg.WorkerID == "" {
		t.Error("WorkerID should be derived when unset")
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }, "WORKER_COUNT"},
		{"zero batch", func(c *Config) { c.PollBatchSize = 0 }, "POLL_BATCH_SIZE"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "MAX_ATTEMPTS"},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }, "LOCK_TIMEOUT"},
		{"zero staleness", func(c *Config) { c.LeaseStaleness = 0 }, "LEASE_STALENESS"},
		{"heartbeat too slow", func(c *Config) { c.HeartbeatInterval = 60 * time.Second }, "HEARTBEAT_INTERVAL"},
		{"missing gateway", func(c *Config) { c.ESMDBaseURL = "" }, "ESMD_BASE_URL"},
		{"bad gateway scheme", func(c *Config) { c.ESMDBaseURL = "ftp://esmd" }, "ESMD_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
