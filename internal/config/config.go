package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries all runtime settings for the game service.
type Config struct {
	Port        string
	Environment string
	CORSOrigins string

	// Auth
	AuthSecretKey      string
	AccessTokenTTL     time.Duration
	RealtimeServiceKey string

	// Store
	StateFile string // JSON snapshot path; empty disables persistence

	// Event store
	RedisURL string // empty selects the in-memory backend

	// Turn worker
	AgentURL           string
	TurnWorkerEnabled  bool
	TurnWorkerInterval time.Duration

	// Moderation
	BannedKeywords []string

	// Logging
	LogDir      string
	LogMaxFiles int
}

// fileOverrides is the optional YAML settings file (CONFIG_FILE). Values set
// here win over environment variables, mirroring how deploys pin policy.
type fileOverrides struct {
	AgentURL           string   `yaml:"agent_url"`
	RealtimeServiceKey string   `yaml:"realtime_service_key"`
	StateFile          string   `yaml:"state_file"`
	BannedKeywords     []string `yaml:"banned_keywords"`
}

// Load builds the configuration from environment variables plus the
// optional YAML overrides file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		Environment:        getEnv("ENVIRONMENT", "dev"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "http://localhost:3000"),
		AuthSecretKey:      getEnv("AUTH_SECRET_KEY", "dev-secret-key"),
		AccessTokenTTL:     time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60)) * time.Minute,
		RealtimeServiceKey: getEnv("REALTIME_SERVICE_KEY", "dev-realtime-key"),
		StateFile:          getEnv("STATE_FILE", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		AgentURL:           getEnv("AI_AGENT_URL", "http://localhost:8001"),
		TurnWorkerEnabled:  getEnvBool("ENABLE_TURN_WORKER", true),
		TurnWorkerInterval: getEnvDuration("TURN_WORKER_POLL_INTERVAL", 500*time.Millisecond),
		LogDir:             getEnv("LOG_DIR", ""),
		LogMaxFiles:        getEnvInt("LOG_MAX_FILES", 10),
	}

	if keywords := os.Getenv("SAFETY_BANNED_KEYWORDS"); keywords != "" {
		cfg.BannedKeywords = splitAndTrim(keywords)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overrides fileOverrides
	if err := yaml.Unmarshal(payload, &overrides); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if overrides.AgentURL != "" {
		c.AgentURL = overrides.AgentURL
	}
	if overrides.RealtimeServiceKey != "" {
		c.RealtimeServiceKey = overrides.RealtimeServiceKey
	}
	if overrides.StateFile != "" {
		c.StateFile = overrides.StateFile
	}
	if len(overrides.BannedKeywords) > 0 {
		c.BannedKeywords = overrides.BannedKeywords
	}
	return nil
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
