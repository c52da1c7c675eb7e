// Package config provides fluent configuration builders for the Tokentra collector.
package config

import (
	"time"

	"github.com/Egham-7/tokentra/internal/config"
	"github.com/Egham-7/tokentra/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Endpoint groups that can be switched on individually.
const (
	EndpointIngest       = "ingest"
	EndpointLegacy       = "legacy"
	EndpointOptimization = "optimization"
	EndpointAdmin        = "admin"
)

// Builder provides a fluent interface for building collector configurations.
type Builder struct {
	cfg              *config.Config
	middlewares      []fiber.Handler
	rateLimitConfig  *models.RateLimitConfig
	timeoutConfig    *models.TimeoutConfig
	enabledEndpoints map[string]bool
}

// New creates a new configuration builder with minimal defaults.
func New() *Builder {
	cfg := &config.Config{
		Server: models.ServerConfig{
			Port:           "8080",
			AllowedOrigins: "*",
			Environment:    "development",
			LogLevel:       "info",
		},
	}
	cfg.ApplyDefaults()

	return &Builder{
		cfg:              cfg,
		middlewares:      []fiber.Handler{},
		enabledEndpoints: make(map[string]bool),
	}
}

// Server configuration

// Port sets the server port.
func (b *Builder) Port(port string) *Builder {
	b.cfg.Server.Port = port
	return b
}

// AllowedOrigins sets CORS allowed origins.
func (b *Builder) AllowedOrigins(origins string) *Builder {
	b.cfg.Server.AllowedOrigins = origins
	return b
}

// Environment sets the environment (development/production).
func (b *Builder) Environment(env string) *Builder {
	b.cfg.Server.Environment = env
	return b
}

// LogLevel sets the logging level (trace, debug, info, warn, error, fatal).
func (b *Builder) LogLevel(level string) *Builder {
	b.cfg.Server.LogLevel = level
	return b
}

// Storage

// WithDatabase sets the datastore the collector writes usage to.
func (b *Builder) WithDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Database = &cfg
	return b
}

// WithRedis enables the shared rate limiter.
func (b *Builder) WithRedis(url string) *Builder {
	b.cfg.Redis = &models.RedisConfig{URL: url}
	return b
}

// Collector

// WithCollector replaces the ingestion settings. Zero values fall back to
// the defaults.
func (b *Builder) WithCollector(cfg models.CollectorConfig) *Builder {
	b.cfg.Collector = cfg
	b.cfg.ApplyDefaults()
	return b
}

// MaxBatchSize caps the number of events accepted per ingest request.
func (b *Builder) MaxBatchSize(n int) *Builder {
	b.cfg.Collector.MaxBatchSize = n
	return b
}

// AlertCooldown sets how long a fired alert stays silent.
func (b *Builder) AlertCooldown(d time.Duration) *Builder {
	b.cfg.Collector.AlertCooldown = d.String()
	return b
}

// BudgetTimezone sets the IANA zone budget periods are computed in.
func (b *Builder) BudgetTimezone(tz string) *Builder {
	b.cfg.Collector.BudgetTimezone = tz
	return b
}

// AdminSecret sets the HS256 secret for admin tokens.
func (b *Builder) AdminSecret(secret string) *Builder {
	b.cfg.Admin.JWTSecret = secret
	return b
}

// Endpoints

// EnableEndpoints restricts the collector to the named endpoint groups.
// With none enabled every group is served.
func (b *Builder) EnableEndpoints(names ...string) *Builder {
	for _, name := range names {
		b.enabledEndpoints[name] = true
	}
	return b
}

// Middleware

// WithRateLimit configures the process-wide request limiter that runs in
// front of per-key limits. keyFunc defaults to the bearer token, then IP.
func (b *Builder) WithRateLimit(max int, expiration time.Duration, keyFunc ...func(*fiber.Ctx) string) *Builder {
	cfg := &models.RateLimitConfig{
		Max:        max,
		Expiration: expiration,
	}
	if len(keyFunc) > 0 {
		cfg.KeyFunc = keyFunc[0]
	}
	b.rateLimitConfig = cfg
	return b
}

// WithTimeout sets the per-request timeout.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeoutConfig = &models.TimeoutConfig{
		Timeout: timeout,
	}
	return b
}

// WithMiddleware appends a custom fiber middleware.
func (b *Builder) WithMiddleware(middleware fiber.Handler) *Builder {
	b.middlewares = append(b.middlewares, middleware)
	return b
}

func (b *Builder) GetMiddlewares() []fiber.Handler {
	return b.middlewares
}

// GetRateLimitConfig returns the rate limit configuration.
func (b *Builder) GetRateLimitConfig() *models.RateLimitConfig {
	return b.rateLimitConfig
}

// GetTimeoutConfig returns the timeout configuration.
func (b *Builder) GetTimeoutConfig() *models.TimeoutConfig {
	return b.timeoutConfig
}

// GetEnabledEndpoints returns a map of enabled endpoints.
func (b *Builder) GetEnabledEndpoints() map[string]bool {
	return b.enabledEndpoints
}

// Build returns the constructed configuration.
func (b *Builder) Build() *config.Config {
	return b.cfg
}

// FromYAML creates a Builder from a YAML configuration file.
// The envFiles parameter specifies which .env files to load before parsing the YAML config.
// Files are loaded in order (first has highest priority).
// Example: builder, err := config.FromYAML("config.yaml", []string{".env.local", ".env"})
func FromYAML(path string, envFiles []string) (*Builder, error) {
	if len(envFiles) > 0 {
		config.LoadEnvFiles(envFiles)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	return &Builder{
		cfg:              cfg,
		middlewares:      []fiber.Handler{},
		enabledEndpoints: make(map[string]bool),
	}, nil
}
