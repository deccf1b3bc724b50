// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Sandbox     SandboxConfig
	Inference   InferenceConfig
	Transcript  TranscriptConfig
}

// SandboxConfig controls the desktop instances this server provisions.
type SandboxConfig struct {
	Image          string
	Runtime        string // Docker runtime: "" = default (runc), "runsc" = gVisor
	StreamHost     string // public host clients use to reach the noVNC stream
	AuthStateDir   string // saved browser auth state tarballs live here
	MaxAge         time.Duration
	ReaperInterval time.Duration
}

// InferenceConfig controls the model binding.
type InferenceConfig struct {
	DefaultModel   string
	BaseURL        string // optional gateway override
	MaxTokens      int
	ThinkingBudget int
}

// TranscriptConfig controls NDJSON session transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/deskloop.db"),
		Sandbox: SandboxConfig{
			Image:          getEnv("SANDBOX_IMAGE", "deskloop/desktop:latest"),
			Runtime:        getEnv("SANDBOX_RUNTIME", ""),
			StreamHost:     getEnv("STREAM_HOST", "localhost"),
			AuthStateDir:   getEnv("AUTH_STATE_DIR", "./data/authstates"),
			MaxAge:         getEnvDuration("INSTANCE_MAX_AGE", 60*time.Minute),
			ReaperInterval: getEnvDuration("REAPER_INTERVAL", 5*time.Minute),
		},
		Inference: InferenceConfig{
			DefaultModel:   getEnv("DEFAULT_MODEL", "claude-3-7-sonnet-20250219"),
			BaseURL:        getEnv("ANTHROPIC_BASE_URL", ""),
			MaxTokens:      getEnvInt("MAX_TOKENS", 4096),
			ThinkingBudget: getEnvInt("THINKING_BUDGET_TOKENS", 1024),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("SANDBOX_IMAGE cannot be empty")
	}
	if c.Sandbox.StreamHost == "" {
		return fmt.Errorf("STREAM_HOST cannot be empty")
	}
	if c.Sandbox.MaxAge <= 0 {
		return fmt.Errorf("INSTANCE_MAX_AGE must be > 0")
	}
	if c.Sandbox.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be > 0")
	}
	if c.Inference.DefaultModel == "" {
		return fmt.Errorf("DEFAULT_MODEL cannot be empty")
	}
	if c.Inference.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be > 0")
	}
	if c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
