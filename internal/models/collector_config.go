package models

// CollectorConfig tunes ingestion and batch evaluation.
type CollectorConfig struct {
	MaxBatchSize        int    `yaml:"max_batch_size,omitempty" json:"max_batch_size,omitzero"`
	WorkerPoolSize      int    `yaml:"worker_pool_size,omitempty" json:"worker_pool_size,omitzero"`
	WorkerBufferSize    int    `yaml:"worker_buffer_size,omitempty" json:"worker_buffer_size,omitzero"`
	AlertCooldown       string `yaml:"alert_cooldown,omitempty" json:"alert_cooldown,omitzero"`
	BudgetTimezone      string `yaml:"budget_timezone,omitempty" json:"budget_timezone,omitzero"`
	CleanupInterval     string `yaml:"cleanup_interval,omitempty" json:"cleanup_interval,omitzero"`
	RequestsPerMinute   int    `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitzero"`
	RequestTimeout      string `yaml:"request_timeout,omitempty" json:"request_timeout,omitzero"`
	APIKeyCacheTTL      string `yaml:"api_key_cache_ttl,omitempty" json:"api_key_cache_ttl,omitzero"`
	AttributionCacheTTL string `yaml:"attribution_cache_ttl,omitempty" json:"attribution_cache_ttl,omitzero"`
}

const (
	DefaultMaxBatchSize     = 100
	DefaultWorkerPoolSize   = 4
	DefaultWorkerBufferSize = 256
)

// RedisConfig enables the shared rate limiter when URL is set.
type RedisConfig struct {
	URL      string `yaml:"url,omitempty" json:"url,omitzero"`
	PoolSize int    `yaml:"pool_size,omitempty" json:"pool_size,omitzero"`
}

// AdminConfig protects the key management endpoints.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret,omitempty" json:"-"`
}
