package pricing

import "strings"

// ModelPricing is the USD price per million tokens.
type ModelPricing struct {
	Model           string
	InputTokenCost  float64
	OutputTokenCost float64
	CachedTokenCost float64
}

// ProviderPricing is ordered: partial matches take the first entry that
// matches.
type ProviderPricing []ModelPricing

// GlobalPricing is the collector's price table, keyed by lower-case provider.
var GlobalPricing = map[string]ProviderPricing{
	"openai": {
		{Model: "gpt-4", InputTokenCost: 30, OutputTokenCost: 60},
		{Model: "gpt-4-turbo", InputTokenCost: 10, OutputTokenCost: 30},
		{Model: "gpt-4o", InputTokenCost: 2.5, OutputTokenCost: 10},
		{Model: "gpt-4o-mini", InputTokenCost: 0.15, OutputTokenCost: 0.6},
		{Model: "gpt-3.5-turbo", InputTokenCost: 0.5, OutputTokenCost: 1.5},
		{Model: "o1", InputTokenCost: 15, OutputTokenCost: 60},
		{Model: "o1-mini", InputTokenCost: 3, OutputTokenCost: 12},
		{Model: "o1-pro", InputTokenCost: 150, OutputTokenCost: 600},
		{Model: "o3-mini", InputTokenCost: 1.1, OutputTokenCost: 4.4},
	},
	"anthropic": {
		{Model: "claude-3-5-sonnet-20241022", InputTokenCost: 3, OutputTokenCost: 15, CachedTokenCost: 0.3},
		{Model: "claude-3-5-haiku-20241022", InputTokenCost: 0.8, OutputTokenCost: 4, CachedTokenCost: 0.08},
		{Model: "claude-3-opus-20240229", InputTokenCost: 15, OutputTokenCost: 75, CachedTokenCost: 1.5},
		{Model: "claude-3-sonnet-20240229", InputTokenCost: 3, OutputTokenCost: 15, CachedTokenCost: 0.3},
		{Model: "claude-3-haiku-20240307", InputTokenCost: 0.25, OutputTokenCost: 1.25, CachedTokenCost: 0.03},
	},
	"google": {
		{Model: "gemini-2.0-flash", InputTokenCost: 0.1, OutputTokenCost: 0.4},
		{Model: "gemini-1.5-pro", InputTokenCost: 1.25, OutputTokenCost: 5},
		{Model: "gemini-1.5-flash", InputTokenCost: 0.075, OutputTokenCost: 0.3},
	},
	"azure": {
		{Model: "gpt-4", InputTokenCost: 30, OutputTokenCost: 60},
		{Model: "gpt-4o", InputTokenCost: 2.5, OutputTokenCost: 10},
	},
	"aws": {
		{Model: "anthropic.claude-3-sonnet", InputTokenCost: 3, OutputTokenCost: 15},
		{Model: "anthropic.claude-3-haiku", InputTokenCost: 0.25, OutputTokenCost: 1.25},
	},
	"xai": {
		{Model: "grok-2", InputTokenCost: 2, OutputTokenCost: 10},
		{Model: "grok-2-mini", InputTokenCost: 0.2, OutputTokenCost: 1},
	},
	"deepseek": {
		{Model: "deepseek-chat", InputTokenCost: 0.14, OutputTokenCost: 0.28},
		{Model: "deepseek-reasoner", InputTokenCost: 0.55, OutputTokenCost: 2.19},
	},
	"mistral": {
		{Model: "mistral-large", InputTokenCost: 2, OutputTokenCost: 6},
		{Model: "mistral-small", InputTokenCost: 0.2, OutputTokenCost: 0.6},
	},
	"cohere": {
		{Model: "command-r-plus", InputTokenCost: 2.5, OutputTokenCost: 10},
		{Model: "command-r", InputTokenCost: 0.15, OutputTokenCost: 0.6},
	},
	"groq": {
		{Model: "llama-3.3-70b", InputTokenCost: 0.59, OutputTokenCost: 0.79},
		{Model: "mixtral-8x7b", InputTokenCost: 0.24, OutputTokenCost: 0.24},
	},
}

// DefaultPricing applies to models absent from GlobalPricing.
var DefaultPricing = ModelPricing{InputTokenCost: 1, OutputTokenCost: 3, CachedTokenCost: 0.1}

type Cost struct {
	InputCost  float64
	OutputCost float64
	CachedCost float64
	TotalCost  float64
}

// Lookup finds the price for a model: exact match first, then the first
// entry where either name contains the other (case-insensitive), then
// DefaultPricing. The second result reports whether the table had an entry.
func Lookup(provider, model string) (ModelPricing, bool) {
	entries := GlobalPricing[strings.ToLower(provider)]
	for _, e := range entries {
		if e.Model == model {
			return e, true
		}
	}

	lower := strings.ToLower(model)
	for _, e := range entries {
		key := strings.ToLower(e.Model)
		if strings.Contains(lower, key) || strings.Contains(key, lower) {
			return e, true
		}
	}

	return DefaultPricing, false
}

// CalculateCost prices a call server-side. Cached tokens are billed only
// when the model has a cached rate.
func CalculateCost(provider, model string, inputTokens, outputTokens, cachedTokens int64) Cost {
	p, _ := Lookup(provider, model)

	c := Cost{
		InputCost:  float64(inputTokens) / 1_000_000 * p.InputTokenCost,
		OutputCost: float64(outputTokens) / 1_000_000 * p.OutputTokenCost,
	}
	if p.CachedTokenCost > 0 {
		c.CachedCost = float64(cachedTokens) / 1_000_000 * p.CachedTokenCost
	}
	c.TotalCost = c.InputCost + c.OutputCost + c.CachedCost
	return c
}

var clientPricing = map[string]map[string]ModelPricing{
	"openai": {
		"gpt-4o":        {InputTokenCost: 2.5, OutputTokenCost: 10},
		"gpt-4o-mini":   {InputTokenCost: 0.15, OutputTokenCost: 0.6},
		"gpt-4-turbo":   {InputTokenCost: 10, OutputTokenCost: 30},
		"gpt-3.5-turbo": {InputTokenCost: 0.5, OutputTokenCost: 1.5},
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputTokenCost: 3, OutputTokenCost: 15},
		"claude-3-opus-20240229":     {InputTokenCost: 15, OutputTokenCost: 75},
		"claude-3-haiku-20240307":    {InputTokenCost: 0.25, OutputTokenCost: 1.25},
	},
	"google": {
		"gemini-1.5-pro":   {InputTokenCost: 1.25, OutputTokenCost: 5},
		"gemini-1.5-flash": {InputTokenCost: 0.075, OutputTokenCost: 0.3},
	},
}

// CalculateClientCost is the SDK's estimate. Unknown models cost 0 so the
// collector prices them instead.
func CalculateClientCost(provider, model string, inputTokens, outputTokens int64) float64 {
	p, ok := clientPricing[provider][model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputTokenCost + float64(outputTokens)/1_000_000*p.OutputTokenCost
}
