// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	// JWTSecret verifies API bearer tokens and the tokens forwarded to the local backend.
	JWTSecret string

	// StorageType selects the backend once at startup:
	// "local-filesystem" (alias "file-system") or "remote-object-storage" (alias "s3").
	StorageType    string
	StorageTimeout time.Duration
	PresignExpiry  time.Duration
	MaxUploadBytes int64

	// Local filesystem backend
	StorageRoot          string
	StoragePublicBase    string // URL the /storage endpoint is reachable at
	StorageSigningSecret string

	// Object storage (S3-compatible: MinIO locally, any S3 provider in production)
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string
	StorageUseSSL    bool
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading from environment")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret: getEnv("JWT_SECRET", "change_me_in_production"),

		StorageType: getEnv("STORAGE_TYPE", "local-filesystem"),

		StorageRoot:          getEnv("STORAGE_ROOT", "./data"),
		StoragePublicBase:    getEnv("STORAGE_PUBLIC_BASE", "http://localhost:8080/storage"),
		StorageSigningSecret: getEnv("STORAGE_SIGNING_SECRET", "change_me_in_production_too"),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("STORAGE_BUCKET", "files"),
		StorageRegion:    getEnv("STORAGE_REGION", ""),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",
	}

	var err error
	if cfg.StorageTimeout, err = getDuration("STORAGE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PresignExpiry, err = getDuration("STORAGE_PRESIGN_EXPIRY", time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getInt64("STORAGE_MAX_UPLOAD_BYTES", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the storage layer cannot default on its own.
func (c *Config) Validate() error {
	if c.PresignExpiry < time.Second {
		return fmt.Errorf("STORAGE_PRESIGN_EXPIRY must be at least 1s, got %s", c.PresignExpiry)
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive, got %s", c.StorageTimeout)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("STORAGE_MAX_UPLOAD_BYTES must not be negative")
	}
	if c.IsProduction() && strings.HasPrefix(c.JWTSecret, "change_me") {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
