// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// buildlog.ai API settings.
	BaseURL       string
	APIKey        string
	UploadTimeout time.Duration

	// Local storage.
	StorePath string // SQLite database file; empty = $HOME/.buildlog/buildlog.db

	// Outbox worker.
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// Workspace watcher. Empty disables watching.
	WatchDir string

	// Default session tags stamped into recorded metadata.
	Editor     string
	AIProvider string
	AIModel    string
	Author     string

	// Recording format: "slim" or "full".
	Format string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:            envStr("BUILDLOG_BASE_URL", "https://api.buildlog.ai"),
		APIKey:             envStr("BUILDLOG_API_KEY", ""),
		UploadTimeout:      envDuration("BUILDLOG_UPLOAD_TIMEOUT", 30*time.Second),
		StorePath:          envStr("BUILDLOG_STORE_PATH", ""),
		OutboxPollInterval: envDuration("BUILDLOG_OUTBOX_POLL_INTERVAL", 30*time.Second),
		OutboxBatchSize:    envInt("BUILDLOG_OUTBOX_BATCH_SIZE", 10),
		WatchDir:           envStr("BUILDLOG_WATCH_DIR", ""),
		Editor:             envStr("BUILDLOG_EDITOR", ""),
		AIProvider:         envStr("BUILDLOG_AI_PROVIDER", ""),
		AIModel:            envStr("BUILDLOG_AI_MODEL", ""),
		Author:             envStr("BUILDLOG_AUTHOR", ""),
		Format:             envStr("BUILDLOG_FORMAT", "slim"),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "buildlog"),
		LogLevel:           envStr("BUILDLOG_LOG_LEVEL", "info"),
	}

	if cfg.StorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve home directory: %w", err)
		}
		cfg.StorePath = filepath.Join(home, ".buildlog", "buildlog.db")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: BUILDLOG_BASE_URL is required")
	}
	if c.Format != "slim" && c.Format != "full" {
		return fmt.Errorf("config: BUILDLOG_FORMAT must be slim or full, got %q", c.Format)
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("config: BUILDLOG_UPLOAD_TIMEOUT must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("config: BUILDLOG_OUTBOX_BATCH_SIZE must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
