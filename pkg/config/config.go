// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds everything the server binary needs.
type Config struct {
	// HTTPPort is the listening port.
	HTTPPort string

	// StoreBackend selects memory, redis or postgres.
	StoreBackend string
	// RedisURL configures the redis backend, e.g. redis://localhost:6379/0.
	RedisURL string
	// PostgresDSN configures the postgres backend.
	PostgresDSN string

	// RunTTL and RunLimit bound run retention: the in-memory store
	// enforces both directly, the postgres store via periodic sweeps.
	RunTTL   time.Duration
	RunLimit int
	// CleanupInterval is the period between retention sweeps on durable
	// backends.
	CleanupInterval time.Duration

	// PoolSize bounds concurrently executing blocking-style agents.
	PoolSize int

	// PlatformURL enables the self-registration handshake when set.
	PlatformURL string
	// ProductionMode is forwarded in the registration payload.
	ProductionMode bool
	// SelfRegister gates the handshake even when PlatformURL is set.
	SelfRegister bool
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8000"),
		StoreBackend:   getEnv("STORE_BACKEND", BackendMemory),
		RedisURL:       os.Getenv("REDIS_URL"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		PlatformURL:    os.Getenv("PLATFORM_URL"),
		ProductionMode: boolEnv("PRODUCTION_MODE", false),
		SelfRegister:   boolEnv("SELF_REGISTER", true),
	}

	var err error
	if cfg.RunTTL, err = durationEnv("RUN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RunLimit, err = intEnv("RUN_LIMIT", 1000); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = durationEnv("CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PoolSize, err = intEnv("POOL_SIZE", 8); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("config: REDIS_URL is required for the redis store backend")
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("config: POSTGRES_DSN is required for the postgres store backend")
		}
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
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

func intEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
