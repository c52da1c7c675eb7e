package models

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultBodyLimit fits a full ingest batch of events with metadata.
const DefaultBodyLimit = 4 * 1024 * 1024

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string `json:"port,omitzero" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins,omitzero" yaml:"allowed_origins"`
	Environment    string `json:"environment,omitzero" yaml:"environment"`
	LogLevel       string `json:"log_level,omitzero" yaml:"log_level"`
	BodyLimit      int    `json:"body_limit,omitzero" yaml:"body_limit"` // bytes
}

// RateLimitConfig overrides the collector-wide request limiter that runs
// before per-key limits. KeyFunc defaults to the bearer token, then IP.
type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
	KeyFunc    func(*fiber.Ctx) string
}

// TimeoutConfig overrides collector.request_timeout.
type TimeoutConfig struct {
	Timeout time.Duration
}
