// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for local state (defaults to "./data", always absolute)
	SignalsDBPath string // SQLite database holding replicated signal tables

	// Object store (bronze/silver/gold layers)
	S3Endpoint  string // Custom endpoint (e.g. Cloudflare R2); empty for AWS default
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Lock service
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Job behaviour
	ByDateRunHour     *int   // UTC hour gating the by-date step; nil = always, negative = never
	PartitionOverride string // Explicit year-month target ("2024-01"); empty = yesterday's month
	MergeConcurrency  int    // Parallel per-symbol merges
	VerifyReplication bool   // Re-count rows after replication
	SyncCron          string // Cron spec for daemon mode; empty = one-shot

	CacheTTLSeconds int // Health probe cache TTL
	LogLevel        string
	DevMode         bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, always resolved to an absolute path so that
	// database files end up in the same place regardless of working directory.
	dataDir := getEnv("STRATUM_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory to absolute path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	signalsDBPath := getEnv("STRATUM_SIGNALS_DB", "")
	if signalsDBPath == "" {
		signalsDBPath = filepath.Join(absDataDir, "signals.db")
	}

	cfg := &Config{
		DataDir:       absDataDir,
		SignalsDBPath: signalsDBPath,

		S3Endpoint:  getEnv("STRATUM_S3_ENDPOINT", ""),
		S3Region:    getEnv("STRATUM_S3_REGION", "auto"),
		S3Bucket:    getEnv("STRATUM_S3_BUCKET", "stratum-lake"),
		S3AccessKey: getEnv("STRATUM_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("STRATUM_S3_SECRET_KEY", ""),

		RedisAddr:     getEnv("STRATUM_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("STRATUM_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("STRATUM_REDIS_DB", 0),

		PartitionOverride: getEnv("STRATUM_PARTITION_OVERRIDE", ""),
		MergeConcurrency:  getEnvInt("STRATUM_MERGE_CONCURRENCY", 8),
		VerifyReplication: getEnvBool("STRATUM_VERIFY_REPLICATION", true),
		SyncCron:          getEnv("STRATUM_SYNC_CRON", ""),

		CacheTTLSeconds: getEnvInt("STRATUM_CACHE_TTL_SECONDS", 60),
		LogLevel:        getEnv("STRATUM_LOG_LEVEL", "info"),
		DevMode:         getEnvBool("STRATUM_DEV_MODE", false),
	}

	// The by-date gate distinguishes "unset" (run every invocation) from an
	// explicit hour, so it stays a pointer rather than a zero-valued int.
	if raw := os.Getenv("STRATUM_BYDATE_RUN_HOUR"); raw != "" {
		hour, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid STRATUM_BYDATE_RUN_HOUR %q: %w", raw, err)
		}
		if hour > 23 {
			return nil, fmt.Errorf("invalid STRATUM_BYDATE_RUN_HOUR %d: must be 0-23 or negative to disable", hour)
		}
		cfg.ByDateRunHour = &hour
	}

	if cfg.MergeConcurrency < 1 {
		return nil, fmt.Errorf("invalid STRATUM_MERGE_CONCURRENCY %d: must be >= 1", cfg.MergeConcurrency)
	}
	if cfg.CacheTTLSeconds < 1 {
		return nil, fmt.Errorf("invalid STRATUM_CACHE_TTL_SECONDS %d: must be >= 1", cfg.CacheTTLSeconds)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable, returning a fallback if
// the variable is not set or cannot be parsed.
func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvBool retrieves a boolean environment variable, returning a fallback if
// the variable is not set or cannot be parsed.
func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
