package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
)

const IngestPath = "/api/v1/sdk/ingest"

// IngestTransport ships payload batches to the collector ingest endpoint.
type IngestTransport struct {
	client  *services.Client
	apiKey  string
	timeout time.Duration
}

func NewIngestTransport(client *services.Client, apiKey string, timeout time.Duration) *IngestTransport {
	return &IngestTransport{client: client, apiKey: apiKey, timeout: timeout}
}

// Send posts one batch. Every failure is returned as a *models.AppError whose
// Retryable flag follows the collector's status: 5xx and 429 retry, other 4xx
// do not; timeouts and network failures retry.
func (t *IngestTransport) Send(ctx context.Context, batch []models.TelemetryPayload) error {
	err := t.client.Post(ctx, IngestPath, models.IngestRequest{Events: batch}, nil, &services.RequestOptions{
		Headers: authHeaders(t.apiKey),
		Timeout: t.timeout,
	})
	return MapError(err)
}

func authHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + apiKey,
		"X-SDK-Version":  models.SDKVersion,
		"X-SDK-Language": models.SDKLanguage,
	}
}

// MapError converts client errors into the SDK error taxonomy.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var httpErr *services.HTTPError
	if errors.As(err, &httpErr) {
		code := models.CodeTelemetryFailed
		message := fmt.Sprintf("HTTP %d", httpErr.StatusCode)
		if body, ok := httpErr.APIErrorBody(); ok {
			if body.Code != "" {
				code = body.Code
			}
			if body.Message != "" {
				message = body.Message
			}
		}
		retryable := httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
		return models.NewTransportError(code, message, httpErr.StatusCode, retryable, err)
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return models.NewNetworkError(err)
}
