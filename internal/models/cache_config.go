package models

// CacheBackendType represents the type of cache backend to use
type CacheBackendType string

const (
	CacheBackendRedis  CacheBackendType = "redis"
	CacheBackendMemory CacheBackendType = "memory"
)

// Cache hit kinds reported in cache_hit_type.
const (
	CacheHitExact    = "exact"
	CacheHitSemantic = "semantic"
	CacheHitNone     = "none"
)

const (
	DefaultCacheCapacity  = 1000
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// ResponseCacheConfig configures the SDK-side semantic response cache for
// OpenAI chat completions.
type ResponseCacheConfig struct {
	Backend  CacheBackendType `json:"backend,omitzero" yaml:"backend"`     // "redis" or "memory"
	RedisURL string           `json:"redis_url,omitzero" yaml:"redis_url"` // Required if backend is "redis"
	Capacity int              `json:"capacity,omitzero" yaml:"capacity"`   // LRU size for the memory backend

	// SemanticThreshold overrides the threshold served by the collector's
	// optimization config when set.
	SemanticThreshold float64 `json:"semantic_threshold,omitzero" yaml:"semantic_threshold"`
	OpenAIAPIKey      string  `json:"openai_api_key,omitzero" yaml:"openai_api_key"`
	EmbeddingModel    string  `json:"embedding_model,omitzero" yaml:"embedding_model"`
}
