package pipeline

import (
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/validator"
)

// Defaults are attribution values applied to events that leave them empty.
type Defaults struct {
	Feature     string
	Team        string
	Project     string
	CostCenter  string
	Environment string
}

// ToPayload projects an event onto the wire format, stamping the SDK
// identity and filling request id, timestamp and attribution defaults.
func ToPayload(e models.TrackingEvent, d Defaults, now time.Time) models.TelemetryPayload {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}

	var metadata models.Metadata
	if len(e.Metadata) > 0 {
		metadata = e.Metadata.Clone()
	}

	p := models.TelemetryPayload{
		RequestID:          e.RequestID,
		Timestamp:          ts.UTC().Format(models.TimestampLayout),
		Provider:           e.Provider,
		Model:              e.Model,
		InputTokens:        e.InputTokens,
		OutputTokens:       e.OutputTokens,
		CachedTokens:       e.CachedTokens,
		InputCost:          e.InputCost,
		OutputCost:         e.OutputCost,
		TotalCost:          e.TotalCost,
		LatencyMs:          e.LatencyMs,
		TimeToFirstTokenMs: e.TimeToFirstTokenMs,
		Feature:            firstNonEmpty(e.Feature, d.Feature),
		Team:               firstNonEmpty(e.Team, d.Team),
		Project:            firstNonEmpty(e.Project, d.Project),
		CostCenter:         firstNonEmpty(e.CostCenter, d.CostCenter),
		UserID:             e.UserID,
		Environment:        firstNonEmpty(e.Environment, d.Environment, models.DefaultEnvironment),
		Metadata:           metadata,
		MethodPath:         e.MethodPath,
		IsStreaming:        e.IsStreaming,
		IsError:            e.IsError,
		ErrorCode:          e.ErrorCode,
		ErrorType:          e.ErrorType,
		ErrorMessage:       e.ErrorMessage,
		WasCached:          e.WasCached,
		CacheHitType:       e.CacheHitType,
		OriginalModel:      e.OriginalModel,
		RoutedByRule:       e.RoutedByRule,
		PromptHash:         e.PromptHash,
		SDKVersion:         models.SDKVersion,
		SDKLanguage:        models.SDKLanguage,
	}
	if p.LatencyMs < 0 {
		p.LatencyMs = 0
	}

	return validator.NormalizeAt(p, now)
}

// NormalizePayload re-applies payload defaults; it is idempotent.
func NormalizePayload(p models.TelemetryPayload) models.TelemetryPayload {
	return validator.Normalize(p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
