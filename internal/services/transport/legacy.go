package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	TrackPath  = "/sdk/v1/track"
	BatchPath  = "/sdk/v1/batch"
	HealthPath = "/sdk/health"
)

// TrackResult is the data of a successful /sdk/v1/track call.
type TrackResult struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LegacyClient talks to the simple track/batch endpoints. It sends
// immediately and does not queue.
type LegacyClient struct {
	client  *services.Client
	apiKey  string
	timeout time.Duration
}

func NewLegacyClient(client *services.Client, apiKey string, timeout time.Duration) *LegacyClient {
	return &LegacyClient{client: client, apiKey: apiKey, timeout: timeout}
}

// Track sends one event synchronously.
func (c *LegacyClient) Track(ctx context.Context, event models.TelemetryPayload) (TrackResult, error) {
	var data TrackResult
	resp, err := c.post(ctx, TrackPath, map[string]any{"event": event}, &data)
	if err != nil {
		return TrackResult{Success: false, Error: err.Error()}, err
	}
	if !resp.Success {
		msg := "Track failed"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return TrackResult{Success: false, Error: msg}, nil
	}
	if data.Error == "" {
		data.Success = true
	}
	return data, nil
}

// TrackBatch sends events in one request.
func (c *LegacyClient) TrackBatch(ctx context.Context, events []models.TelemetryPayload) (models.BatchResult, error) {
	if len(events) == 0 {
		return models.BatchResult{Success: true}, nil
	}

	var data models.BatchResult
	resp, err := c.post(ctx, BatchPath, models.IngestRequest{Events: events}, &data)
	if err != nil {
		return models.BatchResult{Failed: len(events), Errors: []string{err.Error()}}, err
	}
	if !resp.Success {
		msg := "Unknown error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return models.BatchResult{Failed: len(events), Errors: []string{msg}}, nil
	}
	return data, nil
}

// Health never fails; an unreachable collector reports "unhealthy".
func (c *LegacyClient) Health(ctx context.Context) models.HealthResponse {
	var out models.HealthResponse
	err := c.client.Get(ctx, HealthPath, &out, &services.RequestOptions{
		Headers: authHeaders(c.apiKey),
		Timeout: c.timeout,
	})
	if err != nil {
		fiberlog.Debugf("[tokentra] health check failed: %v", err)
		return models.HealthResponse{
			Status:    "unhealthy",
			Version:   "unknown",
			Timestamp: time.Now().UTC().Format(models.TimestampLayout),
		}
	}
	return out
}

// post decodes the {success,data,error} envelope, including on non-2xx.
func (c *LegacyClient) post(ctx context.Context, path string, body, data any) (models.APIResponse, error) {
	var raw struct {
		Success bool             `json:"success"`
		Data    json.RawMessage  `json:"data"`
		Error   *models.APIError `json:"error"`
	}

	err := c.client.Post(ctx, path, body, &raw, &services.RequestOptions{
		Headers: authHeaders(c.apiKey),
		Timeout: c.timeout,
	})

	var httpErr *services.HTTPError
	if errors.As(err, &httpErr) {
		if jsonErr := json.Unmarshal(httpErr.Body, &raw); jsonErr != nil {
			return models.APIResponse{}, MapError(err)
		}
	} else if err != nil {
		return models.APIResponse{}, MapError(err)
	}

	if raw.Success && len(raw.Data) > 0 && data != nil {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return models.APIResponse{}, err
		}
	}
	return models.APIResponse{Success: raw.Success, Error: raw.Error}, nil
}
