package cache

import (
	"context"
	"fmt"

	"github.com/Egham-7/tokentra/internal/models"

	"github.com/botirk38/semanticcache"
	"github.com/botirk38/semanticcache/options"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// PromptCache stores provider responses keyed by prompt text, with an exact
// lookup first and an embedding similarity search second.
type PromptCache[V any] struct {
	semanticCache *semanticcache.SemanticCache[string, V]
}

// NewPromptCache builds a semantic cache on the configured backend.
func NewPromptCache[V any](config models.ResponseCacheConfig) (*PromptCache[V], error) {
	if config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai api key is required for prompt embeddings")
	}

	embedModel := config.EmbeddingModel
	if embedModel == "" {
		embedModel = models.DefaultEmbeddingModel
	}

	backend := config.Backend
	if backend == "" {
		backend = models.CacheBackendMemory
	}

	var sc *semanticcache.SemanticCache[string, V]
	var err error

	switch backend {
	case models.CacheBackendMemory:
		capacity := config.Capacity
		if capacity <= 0 {
			capacity = models.DefaultCacheCapacity
		}
		fiberlog.Debugf("[prompt_cache] Using in-memory LRU backend with capacity=%d", capacity)
		sc, err = semanticcache.New(
			options.WithOpenAIProvider[string, V](config.OpenAIAPIKey, embedModel),
			options.WithLRUBackend[string, V](capacity),
		)

	case models.CacheBackendRedis:
		if config.RedisURL == "" {
			return nil, fmt.Errorf("redis URL not set for redis backend")
		}
		fiberlog.Debug("[prompt_cache] Using Redis backend")
		sc, err = semanticcache.New(
			options.WithOpenAIProvider[string, V](config.OpenAIAPIKey, embedModel),
			options.WithRedisBackend[string, V](config.RedisURL, 0),
		)

	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (supported: redis, memory)", backend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create semantic cache: %w", err)
	}

	return &PromptCache[V]{semanticCache: sc}, nil
}

// Get returns the cached value for prompt and whether it was an exact or a
// semantic hit. Lookup errors count as misses.
func (pc *PromptCache[V]) Get(ctx context.Context, prompt string, threshold float32) (V, string, bool) {
	var zero V
	if prompt == "" {
		return zero, "", false
	}

	hit, found, err := pc.semanticCache.Get(ctx, prompt)
	if err != nil {
		fiberlog.Warnf("[prompt_cache] Exact lookup failed: %v", err)
	} else if found {
		return hit, models.CacheHitExact, true
	}

	match, err := pc.semanticCache.Lookup(ctx, prompt, threshold)
	if err != nil {
		fiberlog.Warnf("[prompt_cache] Semantic lookup failed: %v", err)
		return zero, "", false
	}
	if match == nil {
		return zero, "", false
	}
	return match.Value, models.CacheHitSemantic, true
}

func (pc *PromptCache[V]) Set(ctx context.Context, prompt string, value V) error {
	if prompt == "" {
		return nil
	}
	if err := pc.semanticCache.Set(ctx, prompt, prompt, value); err != nil {
		return fmt.Errorf("failed to store in semantic cache: %w", err)
	}
	return nil
}

func (pc *PromptCache[V]) Flush(ctx context.Context) error {
	if err := pc.semanticCache.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush semantic cache: %w", err)
	}
	return nil
}

func (pc *PromptCache[V]) Close() error {
	return pc.semanticCache.Close()
}
