package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"

	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormConfig is shared by every dialect. Timestamps are written in UTC so
// hourly rollups and budget periods line up across collectors.
func gormConfig(config models.DatabaseConfig) *gorm.Config {
	level := logger.Silent
	if config.LogSQL {
		level = logger.Warn
	}
	return &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func open(config models.DatabaseConfig, name, driverName string, dialector gorm.Dialector, gc *gorm.Config) (*DB, error) {
	gormDB, err := gorm.Open(dialector, gc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", name, err)
	}

	db := &DB{
		DB:         gormDB,
		config:     config,
		driverName: driverName,
	}

	db.setConnectionPool()

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", name, err)
	}

	return db, nil
}

func newPostgreSQL(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			config.Host,
			config.Port,
			config.Username,
			config.Password,
			config.Database,
			getSSLMode(config.SSLMode),
		)
	}
	return open(config, "PostgreSQL", "postgres", postgres.Open(dsn), gormConfig(config))
}

func newMySQL(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
			config.Username,
			config.Password,
			config.Host,
			config.Port,
			config.Database,
		)
	}
	return open(config, "MySQL", "mysql", mysql.Open(dsn), gormConfig(config))
}

// SQLite serializes writers; WAL and a busy timeout keep the ingest worker
// pool from failing on SQLITE_BUSY.
func newSQLite(config models.DatabaseConfig) (*DB, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for SQLite")
	}

	dsn := config.FilePath
	if !strings.Contains(dsn, "?") && !strings.HasPrefix(dsn, "file::memory:") {
		dsn += "?" + url.Values{
			"_journal_mode": {"WAL"},
			"_busy_timeout": {"5000"},
			"_foreign_keys": {"on"},
		}.Encode()
	}
	return open(config, "SQLite", "sqlite3", sqlite.Open(dsn), gormConfig(config))
}

func newClickHouse(config models.DatabaseConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"clickhouse://%s:%s@%s:%d/%s",
			config.Username,
			config.Password,
			config.Host,
			config.Port,
			config.Database,
		)
	}

	gc := gormConfig(config)
	// The ClickHouse driver has incomplete prepared statement support.
	// See: https://github.com/go-gorm/gorm/issues/7493
	gc.PrepareStmt = false

	// Tables are created by RunClickHouseMigrations; this engine only covers
	// anything gorm creates on its own.
	return open(config, "ClickHouse", "clickhouse", clickhouse.New(clickhouse.Config{
		DSN:                    dsn,
		DefaultGranularity:     3,
		DefaultCompression:     "LZ4",
		DefaultIndexType:       "minmax",
		DefaultTableEngineOpts: "ENGINE=MergeTree() ORDER BY id",
	}), gc)
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
