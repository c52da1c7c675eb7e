package tokentra

import (
	"context"

	"github.com/Egham-7/tokentra/internal/services/cache"

	"github.com/openai/openai-go/v2"
)

// ResponseCache serves repeated chat completion prompts. Get reports the
// hit kind, "exact" or "semantic".
type ResponseCache interface {
	Get(ctx context.Context, prompt string, threshold float32) (*openai.ChatCompletion, string, bool)
	Set(ctx context.Context, prompt string, resp *openai.ChatCompletion) error
	Close() error
}

type semanticResponseCache struct {
	prompts *cache.PromptCache[openai.ChatCompletion]
}

// NewSemanticResponseCache builds a ResponseCache backed by embeddings on
// an in-memory LRU or Redis.
func NewSemanticResponseCache(cfg ResponseCacheConfig) (ResponseCache, error) {
	pc, err := cache.NewPromptCache[openai.ChatCompletion](cfg)
	if err != nil {
		return nil, err
	}
	return &semanticResponseCache{prompts: pc}, nil
}

func (s *semanticResponseCache) Get(ctx context.Context, prompt string, threshold float32) (*openai.ChatCompletion, string, bool) {
	resp, kind, ok := s.prompts.Get(ctx, prompt, threshold)
	if !ok {
		return nil, "", false
	}
	return &resp, kind, true
}

func (s *semanticResponseCache) Set(ctx context.Context, prompt string, resp *openai.ChatCompletion) error {
	return s.prompts.Set(ctx, prompt, *resp)
}

func (s *semanticResponseCache) Close() error {
	return s.prompts.Close()
}
