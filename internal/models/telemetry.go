package models

import "time"

const (
	SDKVersion  = "2.0.0"
	SDKLanguage = "go"

	DefaultEnvironment = "production"
)

// Providers accepted by the collector.
var Providers = []string{
	"openai", "anthropic", "google", "azure", "aws",
	"xai", "deepseek", "mistral", "cohere", "groq",
}

var (
	Environments  = []string{"production", "staging", "development", "test"}
	CacheHitTypes = []string{"exact", "semantic", "none"}
	ErrorTypes    = []string{"rate_limit", "auth", "timeout", "server", "client", "unknown"}
	SDKLanguages  = []string{"typescript", "javascript", "python", "go", "java", "ruby"}
)

// TrackingEvent is one AI API call as observed by caller code.
type TrackingEvent struct {
	RequestID  string
	Provider   string
	Model      string
	MethodPath string

	InputTokens  int64
	OutputTokens int64
	CachedTokens int64

	// Costs are in USD; nil means "let the collector price it".
	InputCost  *float64
	OutputCost *float64
	TotalCost  *float64

	LatencyMs          int64
	TimeToFirstTokenMs *int64
	IsStreaming        bool

	IsError      bool
	ErrorCode    string
	ErrorType    string
	ErrorMessage string

	Feature     string
	Team        string
	Project     string
	CostCenter  string
	UserID      string
	Environment string
	Metadata    Metadata

	WasCached     bool
	CacheHitType  string
	OriginalModel string
	RoutedByRule  string
	PromptHash    string

	Timestamp time.Time
}

// TelemetryPayload is the wire form of a TrackingEvent sent to
// POST /api/v1/sdk/ingest.
type TelemetryPayload struct {
	RequestID          string   `json:"request_id"`
	Timestamp          string   `json:"timestamp"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	InputTokens        int64    `json:"input_tokens"`
	OutputTokens       int64    `json:"output_tokens"`
	CachedTokens       int64    `json:"cached_tokens"`
	InputCost          *float64 `json:"input_cost,omitempty"`
	OutputCost         *float64 `json:"output_cost,omitempty"`
	CachedCost         *float64 `json:"cached_cost,omitempty"`
	TotalCost          *float64 `json:"total_cost,omitempty"`
	LatencyMs          int64    `json:"latency_ms"`
	TimeToFirstTokenMs *int64   `json:"time_to_first_token_ms,omitempty"`
	Feature            string   `json:"feature,omitempty"`
	Team               string   `json:"team,omitempty"`
	Project            string   `json:"project,omitempty"`
	CostCenter         string   `json:"cost_center,omitempty"`
	UserID             string   `json:"user_id,omitempty"`
	Environment        string   `json:"environment"`
	Metadata           Metadata `json:"metadata,omitempty"`
	MethodPath         string   `json:"method_path,omitempty"`
	IsStreaming        bool     `json:"is_streaming"`
	IsError            bool     `json:"is_error"`
	ErrorCode          string   `json:"error_code,omitempty"`
	ErrorType          string   `json:"error_type,omitempty"`
	ErrorMessage       string   `json:"error_message,omitempty"`
	WasCached          bool     `json:"was_cached"`
	CacheHitType       string   `json:"cache_hit_type,omitempty"`
	OriginalModel      string   `json:"original_model,omitempty"`
	RoutedByRule       string   `json:"routed_by_rule,omitempty"`
	PromptHash         string   `json:"prompt_hash,omitempty"`
	SDKVersion         string   `json:"sdk_version"`
	SDKLanguage        string   `json:"sdk_language"`
}

// TimestampLayout is the payload timestamp format (ISO-8601, millisecond UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// IngestRequest is the body of POST /api/v1/sdk/ingest.
type IngestRequest struct {
	Events []TelemetryPayload `json:"events"`
}

// BatchResult is returned by the batch and ingest endpoints.
type BatchResult struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// APIError is the error body used by every collector endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the envelope of the legacy endpoints.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// HealthResponse is returned by GET /sdk/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// SDKStats are the client-side pipeline counters.
type SDKStats struct {
	RequestsTracked     int64  `json:"requestsTracked"`
	TelemetrySent       int64  `json:"telemetrySent"`
	TelemetryFailed     int64  `json:"telemetryFailed"`
	TelemetryBuffered   int    `json:"telemetryBuffered"`
	TelemetryDropped    int64  `json:"telemetryDropped"`
	CacheHits           int64  `json:"cacheHits"`
	CacheMisses         int64  `json:"cacheMisses"`
	Errors              int64  `json:"errors"`
	CircuitBreakerState string `json:"circuitBreakerState"`
}
