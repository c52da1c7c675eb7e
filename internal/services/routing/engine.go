package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/utils/ttlcache"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	DefaultConfigTTL = 5 * time.Minute

	configCacheKey = "config"

	ReasonOptimizationDisabled = "Optimization disabled"
	ReasonRoutingDisabled      = "Routing disabled"
	ReasonNoMatch              = "No routing rule matched"
)

// ConfigSource supplies the optimization config for the calling org.
type ConfigSource interface {
	Fetch(ctx context.Context) (models.OptimizationConfig, error)
}

type Option func(*engineOptions)

type engineOptions struct {
	ttl time.Duration
	now func() time.Time
}

func WithTTL(ttl time.Duration) Option {
	return func(o *engineOptions) { o.ttl = ttl }
}

// WithClock replaces time.Now for config expiry.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// Engine decides whether a request should be redirected to a cheaper model.
type Engine struct {
	source ConfigSource
	cache  *ttlcache.Cache[models.OptimizationConfig]
}

func NewEngine(source ConfigSource, opts ...Option) *Engine {
	o := engineOptions{ttl: DefaultConfigTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		source: source,
		cache:  ttlcache.New[models.OptimizationConfig](o.ttl, ttlcache.WithClock(o.now)),
	}
}

// Config returns the cached config, fetching it when stale. Fetch failures
// yield the disabled config, which is not cached so the next call retries.
func (e *Engine) Config(ctx context.Context) models.OptimizationConfig {
	cfg, err := e.cache.GetOrLoad(configCacheKey, func() (models.OptimizationConfig, error) {
		return e.source.Fetch(ctx)
	})
	if err != nil {
		fiberlog.Warnf("[routing] Failed to fetch optimization config, routing disabled: %v", err)
		return models.DisabledOptimizationConfig()
	}
	return cfg
}

func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// GetRoutingDecision always returns a complete decision.
func (e *Engine) GetRoutingDecision(ctx context.Context, req models.RoutingRequest) models.RoutingDecision {
	cfg := e.Config(ctx)
	return Decide(cfg, req)
}

// Decide applies cfg to req: rules in ascending priority, then model
// mappings, first match wins.
func Decide(cfg models.OptimizationConfig, req models.RoutingRequest) models.RoutingDecision {
	if !cfg.Enabled {
		return noRoute(req.Model, ReasonOptimizationDisabled)
	}
	if !cfg.EnableRouting {
		return noRoute(req.Model, ReasonRoutingDisabled)
	}

	prompt := firstUserMessage(req.Messages)
	task := DetectTaskType(prompt)
	complexity := EstimateComplexity(prompt)
	fields := requestFields(req, task, complexity)

	rules := slices.Clone(cfg.RoutingRules)
	slices.SortStableFunc(rules, func(a, b models.RoutingRule) int {
		return a.Priority - b.Priority
	})

	for _, rule := range rules {
		if matchesRule(rule, fields) {
			return models.RoutingDecision{
				ShouldRoute:             true,
				OriginalModel:           req.Model,
				TargetModel:             rule.TargetModel,
				TargetProvider:          rule.TargetProvider,
				RuleID:                  rule.ID,
				RuleName:                rule.Name,
				Reason:                  "Matched routing rule: " + rule.Name,
				EstimatedSavingsPercent: EstimateSavings(req.Model, rule.TargetModel),
			}
		}
	}

	for _, m := range cfg.ModelMappings {
		if matchesMapping(m, req.Model, task, complexity) {
			return models.RoutingDecision{
				ShouldRoute:             true,
				OriginalModel:           req.Model,
				TargetModel:             m.TargetModel,
				TargetProvider:          m.TargetProvider,
				Reason:                  fmt.Sprintf("Smart routing: %s task can use %s", task, m.TargetModel),
				EstimatedSavingsPercent: m.SavingsPercent,
			}
		}
	}

	return noRoute(req.Model, ReasonNoMatch)
}

func noRoute(model, reason string) models.RoutingDecision {
	return models.RoutingDecision{
		OriginalModel: model,
		TargetModel:   model,
		Reason:        reason,
	}
}

func firstUserMessage(msgs []models.ChatMessage) string {
	for _, m := range msgs {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// requestFields is the field map conditions are evaluated against. Optional
// request values that were not supplied are left out.
func requestFields(req models.RoutingRequest, task string, complexity float64) map[string]any {
	f := map[string]any{
		"model":      req.Model,
		"provider":   req.Provider,
		"task_type":  task,
		"complexity": complexity,
	}
	if req.Feature != "" {
		f["feature"] = req.Feature
	}
	if req.Team != "" {
		f["team"] = req.Team
	}
	if req.InputTokens != nil {
		f["input_tokens"] = float64(*req.InputTokens)
	}
	return f
}

func matchesRule(rule models.RoutingRule, fields map[string]any) bool {
	for _, c := range rule.Conditions {
		if !evaluate(c, fields) {
			return false
		}
	}
	return true
}

func evaluate(c models.RoutingCondition, fields map[string]any) bool {
	value, ok := fields[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case models.OpEq:
		return equal(value, c.Value)
	case models.OpNeq:
		return !equal(value, c.Value)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		v, ok1 := toFloat(value)
		want, ok2 := toFloat(c.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch c.Operator {
		case models.OpGt:
			return v > want
		case models.OpGte:
			return v >= want
		case models.OpLt:
			return v < want
		default:
			return v <= want
		}
	case models.OpIn:
		return contains(c.Value, value)
	case models.OpContains:
		s, ok1 := value.(string)
		sub, ok2 := c.Value.(string)
		return ok1 && ok2 && strings.Contains(s, sub)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	return ok1 && ok2 && as == bs
}

// contains reports list membership; list may be []any (decoded JSON) or
// []string.
func contains(list, value any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if equal(value, item) {
				return true
			}
		}
	case []string:
		if s, ok := value.(string); ok {
			return slices.Contains(l, s)
		}
	case models.StringList:
		if s, ok := value.(string); ok {
			return l.Contains(s)
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func matchesMapping(m models.ModelMapping, model, task string, complexity float64) bool {
	if m.SourceModel != model {
		return false
	}
	if m.TaskTypes != nil && !slices.Contains(m.TaskTypes, task) {
		return false
	}
	if m.MaxComplexity != nil && complexity > *m.MaxComplexity {
		return false
	}
	return true
}
