package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	LocalDBPath   string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BranchID      string
	SyncInterval  time.Duration
	SyncMaxRetry  int
	ProbeTimeout  time.Duration
	SnapshotTTL   time.Duration
	LogLevel      string
}

// Load reads configuration from the environment. Every value has a usable
// default except DATABASE_URL: without it the daemon runs against the
// in-memory ledger, which is only useful for demos and tests.
func Load() Config {
	return Config{
		LocalDBPath:   getEnv("LOCAL_DB_PATH", "terminal.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		BranchID:      getEnv("BRANCH_ID", "main"),
		SyncInterval:  time.Duration(getEnvInt("SYNC_INTERVAL_SECONDS", 30)) * time.Second,
		SyncMaxRetry:  getEnvInt("SYNC_MAX_RETRIES", 10),
		ProbeTimeout:  time.Duration(getEnvInt("PROBE_TIMEOUT_MS", 3000)) * time.Millisecond,
		SnapshotTTL:   time.Duration(getEnvInt("SNAPSHOT_TTL_SECONDS", 300)) * time.Second,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
