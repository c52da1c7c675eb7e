package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete collector configuration
type Config struct {
	Server    models.ServerConfig    `yaml:"server"`
	Database  *models.DatabaseConfig `yaml:"database,omitempty"`
	Redis     *models.RedisConfig    `yaml:"redis,omitempty"`
	Collector models.CollectorConfig `yaml:"collector"`
	Admin     models.AdminConfig     `yaml:"admin"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML after substituting ${VAR} references and applies defaults.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fiberlog.Infof("Loaded environment variables from %s", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.BodyLimit <= 0 {
		c.Server.BodyLimit = models.DefaultBodyLimit
	}
	if c.Collector.MaxBatchSize <= 0 {
		c.Collector.MaxBatchSize = models.DefaultMaxBatchSize
	}
	if c.Collector.WorkerPoolSize <= 0 {
		c.Collector.WorkerPoolSize = models.DefaultWorkerPoolSize
	}
	if c.Collector.WorkerBufferSize <= 0 {
		c.Collector.WorkerBufferSize = models.DefaultWorkerBufferSize
	}
	if c.Collector.RequestsPerMinute <= 0 {
		c.Collector.RequestsPerMinute = 600
	}
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// AlertCooldown returns the configured cooldown or one hour.
func (c *Config) AlertCooldown() time.Duration {
	return parseDuration(c.Collector.AlertCooldown, time.Hour)
}

// CleanupInterval returns how often expired cooldowns are purged.
func (c *Config) CleanupInterval() time.Duration {
	return parseDuration(c.Collector.CleanupInterval, 15*time.Minute)
}

// RequestTimeout bounds each collector request.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Collector.RequestTimeout, 30*time.Second)
}

func (c *Config) APIKeyCacheTTL() time.Duration {
	return parseDuration(c.Collector.APIKeyCacheTTL, time.Minute)
}

func (c *Config) AttributionCacheTTL() time.Duration {
	return parseDuration(c.Collector.AttributionCacheTTL, 5*time.Minute)
}

// BudgetLocation is the timezone budget periods are computed in.
func (c *Config) BudgetLocation() *time.Location {
	if c.Collector.BudgetTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Collector.BudgetTimezone)
	if err != nil {
		fiberlog.Warnf("Invalid budget_timezone %q, using UTC: %v", c.Collector.BudgetTimezone, err)
		return time.UTC
	}
	return loc
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fiberlog.Warnf("Invalid duration %q, using %s", raw, fallback)
		return fallback
	}
	return d
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var missing []string

	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Server.AllowedOrigins == "" {
		missing = append(missing, "server.allowed_origins")
	}
	if c.Database == nil {
		missing = append(missing, "database")
	} else if c.Database.Type == "" {
		missing = append(missing, "database.type")
	}
	if c.Admin.JWTSecret == "" {
		missing = append(missing, "admin.jwt_secret")
	}

	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}

	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration fields: " + strings.Join(e.MissingFields, ", ")
}
