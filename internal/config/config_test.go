package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.LocalDBPath != "terminal.db" {
		t.Errorf("expected default local db path, got %q", cfg.LocalDBPath)
	}
	if cfg.BranchID != "main" {
		t.Errorf("expected default branch, got %q", cfg.BranchID)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("expected 30s sync interval, got %v", cfg.SyncInterval)
	}
	if cfg.SyncMaxRetry != 10 {
		t.Errorf("expected 10 retries, got %d", cfg.SyncMaxRetry)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCAL_DB_PATH", "/var/lib/pos/terminal.db")
	t.Setenv("SYNC_INTERVAL_SECONDS", "5")
	t.Setenv("PROBE_TIMEOUT_MS", "500")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SYNC_MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.LocalDBPath != "/var/lib/pos/terminal.db" {
		t.Errorf("override not applied: %q", cfg.LocalDBPath)
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.SyncInterval)
	}
	if cfg.ProbeTimeout != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.ProbeTimeout)
	}
	if cfg.RedisDB != 2 {
		t.Errorf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.SyncMaxRetry != 10 {
		t.Errorf("expected fallback on bad int, got %d", cfg.SyncMaxRetry)
	}
}
