// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig carries the process-wide configuration read once at startup.
type AppConfig struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// RedisURL is the Redis connection string (optional; features degrade
	// gracefully when empty).
	RedisURL string

	// MongoURL is the MongoDB connection string for the interaction and
	// learning record store (optional).
	MongoURL string

	// JWTSecret signs issued and rotated JWTs.
	JWTSecret string

	// JWTTTL is the lifetime of issued tokens.
	JWTTTL time.Duration

	// Environment is "production" or "development"; it selects semantic
	// cache sizing and thresholds.
	Environment string

	// RateLimitPerMinute caps per-IP requests per minute.
	RateLimitPerMinute int

	// MediaBucket is the S3 bucket receiving decoded multimodal uploads.
	// Empty disables object storage (media rows keep local paths).
	MediaBucket string

	// ExchangeMatchThreshold is the minimum weighted score for pairing
	// two exchanges.
	ExchangeMatchThreshold float64
}

// Load reads the application configuration from the environment.
// DATABASE_URL and JWT_SECRET are required; everything else has defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:               envOr("HTTP_ADDR", ":8000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		MongoURL:               os.Getenv("MONGO_URL"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTTTL:                 24 * time.Hour,
		Environment:            envOr("ENVIRONMENT", "development"),
		RateLimitPerMinute:     envIntOr("RATE_LIMIT_PER_MINUTE", 100),
		MediaBucket:            os.Getenv("MEDIA_BUCKET"),
		ExchangeMatchThreshold: envFloatOr("ECHANGE_MATCH_THRESHOLD", 0.70),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production sizing.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
