package pkg

import "github.com/Egham-7/tokentra/internal/models"

// Config types accepted by pkg/config builders.
type (
	ServerConfig    = models.ServerConfig
	DatabaseConfig  = models.DatabaseConfig
	DatabaseType    = models.DatabaseType
	RedisConfig     = models.RedisConfig
	CollectorConfig = models.CollectorConfig
	AdminConfig     = models.AdminConfig
	RateLimitConfig = models.RateLimitConfig
	TimeoutConfig   = models.TimeoutConfig
)

const (
	PostgreSQL = models.PostgreSQL
	MySQL      = models.MySQL
	SQLite     = models.SQLite
	ClickHouse = models.ClickHouse
)
