package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; takes precedence over SQLitePath
	SQLitePath  string
	RedisURL    string
	LogLevel    zerolog.Level

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Request signing
	AuthWindow time.Duration

	// Largest encrypted payload accepted per message
	MaxContentBytes int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := fromEnv(os.Getenv)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func fromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Port:             get("PORT", "8080"),
		Env:              get("ENV", "development"),
		DatabaseURL:      getenv("DATABASE_URL"),
		SQLitePath:       getenv("SQLITE_PATH"),
		RedisURL:         getenv("REDIS_URL"),
		AutoBlockEnabled: get("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	level, err := zerolog.ParseLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	cfg.AuthWindow, err = time.ParseDuration(get("AUTH_WINDOW", "30s"))
	if err != nil || cfg.AuthWindow <= 0 {
		return nil, fmt.Errorf("AUTH_WINDOW: must be a positive duration")
	}

	cfg.MaxContentBytes, err = strconv.Atoi(get("MAX_CONTENT_BYTES", "65536"))
	if err != nil || cfg.MaxContentBytes <= 0 {
		return nil, fmt.Errorf("MAX_CONTENT_BYTES: must be a positive integer")
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production the ledger must survive restarts.
	if cfg.Env == "production" && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required in production")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
