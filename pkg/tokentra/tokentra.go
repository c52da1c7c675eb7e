// Package tokentra is the Go SDK for the Tokentra usage collector. It
// buffers AI API call telemetry and ships it in batches, wraps the OpenAI,
// Anthropic and Gemini clients so calls are tracked automatically, and
// answers model routing questions from the organization's optimization
// config.
package tokentra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
	"github.com/Egham-7/tokentra/internal/services/pipeline"
	"github.com/Egham-7/tokentra/internal/services/routing"
	"github.com/Egham-7/tokentra/internal/services/transport"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	DefaultBaseURL = "https://api.tokentra.com"
	DefaultTimeout = 10 * time.Second

	Version = models.SDKVersion
)

type (
	TrackingEvent   = models.TrackingEvent
	Metadata        = models.Metadata
	Stats           = models.SDKStats
	HealthResponse  = models.HealthResponse
	RoutingRequest  = models.RoutingRequest
	RoutingDecision = models.RoutingDecision
	ChatMessage     = models.ChatMessage
	LifecycleEvent  = pipeline.LifecycleEvent
	EventType       = pipeline.EventType
	Error           = models.AppError

	ResponseCacheConfig = models.ResponseCacheConfig
)

const (
	EventQueued   = pipeline.EventQueued
	EventSent     = pipeline.EventSent
	EventFailed   = pipeline.EventFailed
	EventError    = pipeline.EventError
	EventShutdown = pipeline.EventShutdown
)

// Context is attribution applied to every tracked event that does not set
// the field itself.
type Context struct {
	Feature     string
	Team        string
	Project     string
	CostCenter  string
	UserID      string
	Environment string
	Metadata    Metadata
}

type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds each collector request.
	Timeout time.Duration

	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int
	// MaxRetries is the number of retries after the first send attempt.
	// Zero uses the default; a negative value disables retries.
	MaxRetries int

	// Defaults seed every event; SetContext layers on top of them.
	Defaults Context

	DisableOptimization bool
	RoutingCacheTTL     time.Duration

	// ResponseCache enables the semantic response cache for wrapped OpenAI
	// chat completions.
	ResponseCache *ResponseCacheConfig

	Debug   bool
	OnError func(error)
}

// Client is safe for concurrent use.
type Client struct {
	cfg Config

	http     *services.Client
	pipeline *pipeline.Pipeline
	engine   *routing.Engine
	legacy   *transport.LegacyClient
	cache    ResponseCache

	mu      sync.RWMutex
	context Context

	closeOnce sync.Once

	optimizationEnabled atomic.Bool
	now                 func() time.Time
	newRequestID        func() string
}

// New validates cfg and starts the background flush loop. Callers must
// call Shutdown to deliver buffered events.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &models.AppError{
			Type:    models.ErrorTypeValidation,
			Code:    models.CodeInvalidAPIKey,
			Message: "TokenTra API key is required",
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Debug {
		fiberlog.SetLevel(fiberlog.LevelDebug)
	}

	httpCfg := services.DefaultClientConfig(cfg.BaseURL)
	httpCfg.Timeout = cfg.Timeout
	httpClient := services.NewClientWithConfig(httpCfg)

	var responseCache ResponseCache
	if cfg.ResponseCache != nil {
		pc, err := NewSemanticResponseCache(*cfg.ResponseCache)
		if err != nil {
			return nil, err
		}
		responseCache = pc
	}

	c := newClient(cfg, httpClient, transport.NewIngestTransport(httpClient, cfg.APIKey, cfg.Timeout),
		routing.NewHTTPConfigSource(httpClient, cfg.APIKey, cfg.Timeout), responseCache)

	fiberlog.Debugf("[tokentra] SDK initialized (version %s, endpoint %s)", Version, cfg.BaseURL)
	return c, nil
}

func newClient(cfg Config, httpClient *services.Client, sink pipeline.Transport, source routing.ConfigSource, responseCache ResponseCache, opts ...pipeline.Option) *Client {
	pcfg := pipeline.DefaultConfig()
	if cfg.BatchSize > 0 {
		pcfg.BatchSize = cfg.BatchSize
	}
	if cfg.FlushInterval > 0 {
		pcfg.FlushInterval = cfg.FlushInterval
	}
	if cfg.MaxQueueSize > 0 {
		pcfg.MaxQueueSize = cfg.MaxQueueSize
	}
	switch {
	case cfg.MaxRetries < 0:
		pcfg.MaxRetries = 0
	case cfg.MaxRetries > 0:
		pcfg.MaxRetries = cfg.MaxRetries
	}
	pcfg.OnError = cfg.OnError
	pcfg.Defaults = pipeline.Defaults{
		Feature:     cfg.Defaults.Feature,
		Team:        cfg.Defaults.Team,
		Project:     cfg.Defaults.Project,
		CostCenter:  cfg.Defaults.CostCenter,
		Environment: cfg.Defaults.Environment,
	}

	var engineOpts []routing.Option
	if cfg.RoutingCacheTTL > 0 {
		engineOpts = append(engineOpts, routing.WithTTL(cfg.RoutingCacheTTL))
	}

	c := &Client{
		cfg:          cfg,
		http:         httpClient,
		pipeline:     pipeline.New(pcfg, sink, opts...),
		engine:       routing.NewEngine(source, engineOpts...),
		legacy:       transport.NewLegacyClient(httpClient, cfg.APIKey, cfg.Timeout),
		cache:        responseCache,
		now:          time.Now,
		newRequestID: newRequestID,
	}
	c.optimizationEnabled.Store(!cfg.DisableOptimization)
	return c
}

// SetContext merges ctx into the default context. Empty fields leave the
// current value alone; metadata keys are merged.
func (c *Client) SetContext(ctx Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.context
	cur.Feature = firstNonEmpty(ctx.Feature, cur.Feature)
	cur.Team = firstNonEmpty(ctx.Team, cur.Team)
	cur.Project = firstNonEmpty(ctx.Project, cur.Project)
	cur.CostCenter = firstNonEmpty(ctx.CostCenter, cur.CostCenter)
	cur.UserID = firstNonEmpty(ctx.UserID, cur.UserID)
	cur.Environment = firstNonEmpty(ctx.Environment, cur.Environment)
	cur.Metadata = mergeMetadata(cur.Metadata, ctx.Metadata)
	c.context = cur
}

// ClearContext drops everything set with SetContext. Config.Defaults still
// apply.
func (c *Client) ClearContext() {
	c.mu.Lock()
	c.context = Context{}
	c.mu.Unlock()
}

// Track queues one event. It never blocks on the network.
func (c *Client) Track(event TrackingEvent) {
	c.pipeline.Enqueue(c.enrich(event))
}

func (c *Client) enrich(event TrackingEvent) TrackingEvent {
	c.mu.RLock()
	def := c.context
	c.mu.RUnlock()

	event.Feature = firstNonEmpty(event.Feature, def.Feature)
	event.Team = firstNonEmpty(event.Team, def.Team)
	event.Project = firstNonEmpty(event.Project, def.Project)
	event.CostCenter = firstNonEmpty(event.CostCenter, def.CostCenter)
	event.UserID = firstNonEmpty(event.UserID, def.UserID, c.cfg.Defaults.UserID)
	event.Environment = firstNonEmpty(event.Environment, def.Environment)
	event.Metadata = mergeMetadata(mergeMetadata(c.cfg.Defaults.Metadata, def.Metadata), event.Metadata)
	return event
}

// Flush sends one batch now.
func (c *Client) Flush(ctx context.Context) error {
	return c.pipeline.Flush(ctx)
}

// Shutdown drains the queue and releases the HTTP client and response
// cache. It is safe to call more than once.
func (c *Client) Shutdown(ctx context.Context) {
	c.pipeline.Shutdown(ctx)
	c.closeOnce.Do(func() {
		if c.cache != nil {
			if err := c.cache.Close(); err != nil {
				fiberlog.Warnf("[tokentra] Failed to close response cache: %v", err)
			}
		}
		c.http.Close()
	})
}

func (c *Client) Stats() Stats {
	return c.pipeline.Stats()
}

// Events streams pipeline lifecycle events. Slow readers miss events.
func (c *Client) Events() <-chan LifecycleEvent {
	return c.pipeline.Events()
}

func (c *Client) SetOptimizationEnabled(enabled bool) {
	c.optimizationEnabled.Store(enabled)
}

func (c *Client) OptimizationEnabled() bool {
	return c.optimizationEnabled.Load()
}

// GetRoutingDecision never fails: a config that cannot be fetched yields a
// no-route decision.
func (c *Client) GetRoutingDecision(ctx context.Context, req RoutingRequest) RoutingDecision {
	if !c.optimizationEnabled.Load() {
		return RoutingDecision{
			ShouldRoute:    false,
			OriginalModel:  req.Model,
			TargetModel:    req.Model,
			TargetProvider: req.Provider,
			Reason:         "Optimization disabled",
		}
	}
	return c.engine.GetRoutingDecision(ctx, req)
}

// ClearRoutingCache forces the next routing decision to refetch the config.
func (c *Client) ClearRoutingCache() {
	c.engine.ClearCache()
}

// Health asks the collector for its status. It reports "unhealthy" rather
// than failing.
func (c *Client) Health(ctx context.Context) HealthResponse {
	return c.legacy.Health(ctx)
}

func (c *Client) cacheThreshold(ctx context.Context) float32 {
	if c.cfg.ResponseCache != nil && c.cfg.ResponseCache.SemanticThreshold > 0 {
		return float32(c.cfg.ResponseCache.SemanticThreshold)
	}
	if c.optimizationEnabled.Load() {
		if t := c.engine.Config(ctx).CacheSimilarityThreshold; t > 0 {
			return float32(t)
		}
	}
	return models.DefaultCacheSimilarityThreshold
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// mergeMetadata returns a new map with over's keys winning.
func mergeMetadata(base, over Metadata) Metadata {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(Metadata, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
