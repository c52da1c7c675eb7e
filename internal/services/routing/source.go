package routing

import (
	"context"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
)

const OptimizationConfigPath = "/api/v1/sdk/optimization/config"

// HTTPConfigSource fetches the config from the collector.
type HTTPConfigSource struct {
	client  *services.Client
	apiKey  string
	timeout time.Duration
}

func NewHTTPConfigSource(client *services.Client, apiKey string, timeout time.Duration) *HTTPConfigSource {
	return &HTTPConfigSource{client: client, apiKey: apiKey, timeout: timeout}
}

func (s *HTTPConfigSource) Fetch(ctx context.Context) (models.OptimizationConfig, error) {
	var cfg models.OptimizationConfig
	err := s.client.Get(ctx, OptimizationConfigPath, &cfg, &services.RequestOptions{
		Headers: map[string]string{"Authorization": "Bearer " + s.apiKey},
		Timeout: s.timeout,
	})
	if err != nil {
		return models.OptimizationConfig{}, err
	}
	return cfg, nil
}

// StaticConfigSource always returns the same config.
type StaticConfigSource struct {
	Config models.OptimizationConfig
	Err    error
}

func (s StaticConfigSource) Fetch(context.Context) (models.OptimizationConfig, error) {
	return s.Config, s.Err
}
