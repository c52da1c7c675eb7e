package tokentra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Egham-7/tokentra/internal/services/pricing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"
)

// CallOptions attributes one wrapped provider call. Attach them with
// WithCallOptions; they win over SetContext and Config.Defaults.
type CallOptions struct {
	Feature     string
	Team        string
	Project     string
	CostCenter  string
	UserID      string
	Environment string
	Metadata    Metadata

	// SkipCache bypasses the response cache for this call.
	SkipCache bool
}

type callOptionsKey struct{}

func WithCallOptions(ctx context.Context, opts CallOptions) context.Context {
	return context.WithValue(ctx, callOptionsKey{}, opts)
}

func callOptionsFrom(ctx context.Context) CallOptions {
	opts, _ := ctx.Value(callOptionsKey{}).(CallOptions)
	return opts
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}

// callRecord is what a decorator observed about one provider call.
type callRecord struct {
	requestID  string
	provider   string
	model      string
	methodPath string
	start      time.Time

	inputTokens  int64
	outputTokens int64
	cachedTokens int64

	wasCached    bool
	cacheHitType string
	promptHash   string

	err error
}

func (c *Client) trackCall(ctx context.Context, r callRecord) {
	opts := callOptionsFrom(ctx)

	event := TrackingEvent{
		RequestID:    r.requestID,
		Provider:     r.provider,
		Model:        r.model,
		MethodPath:   r.methodPath,
		InputTokens:  r.inputTokens,
		OutputTokens: r.outputTokens,
		CachedTokens: r.cachedTokens,
		LatencyMs:    c.now().Sub(r.start).Milliseconds(),
		Feature:      opts.Feature,
		Team:         opts.Team,
		Project:      opts.Project,
		CostCenter:   opts.CostCenter,
		UserID:       opts.UserID,
		Environment:  opts.Environment,
		Metadata:     opts.Metadata,
		WasCached:    r.wasCached,
		CacheHitType: r.cacheHitType,
		PromptHash:   r.promptHash,
	}
	if event.Model == "" {
		event.Model = "unknown"
	}

	switch {
	case r.err != nil:
		event.IsError = true
		event.ErrorType, event.ErrorCode = classifyError(r.err)
		event.ErrorMessage = r.err.Error()
	case r.wasCached:
		var zero float64
		event.InputCost, event.OutputCost, event.TotalCost = &zero, &zero, &zero
	case r.inputTokens > 0 || r.outputTokens > 0:
		// Unpriced models are left for the collector.
		if cost := pricing.CalculateClientCost(r.provider, r.model, r.inputTokens, r.outputTokens); cost > 0 {
			event.TotalCost = &cost
		}
	}

	c.Track(event)
}

// classifyError maps a provider error onto the collector's error_type
// values. The code is the HTTP status when one is known.
func classifyError(err error) (errorType, code string) {
	status := providerStatus(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit", strconv.Itoa(status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth", strconv.Itoa(status)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return "timeout", strconv.Itoa(status)
	case status >= 500:
		return "server", strconv.Itoa(status)
	case status >= 400:
		return "client", strconv.Itoa(status)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", "TIMEOUT"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", "TIMEOUT"
	}
	if errors.Is(err, context.Canceled) {
		return "unknown", "CANCELED"
	}
	return "unknown", "UNKNOWN"
}

func providerStatus(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return gErrPtr.Code
	}
	return 0
}
