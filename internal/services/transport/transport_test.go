package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransport(t *testing.T, handler http.HandlerFunc) *IngestTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIngestTransport(services.NewClient(srv.URL), "tt_test_abcdefghijkl", time.Second)
}

func TestSendPostsBatchWithHeaders(t *testing.T) {
	var got models.IngestRequest
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, IngestPath, r.URL.Path)
		assert.Equal(t, "Bearer tt_test_abcdefghijkl", r.Header.Get("Authorization"))
		assert.Equal(t, models.SDKVersion, r.Header.Get("X-SDK-Version"))
		assert.Equal(t, models.SDKLanguage, r.Header.Get("X-SDK-Language"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"processed":1,"failed":0}`))
	})

	err := tr.Send(context.Background(), []models.TelemetryPayload{{RequestID: "r1", Provider: "openai", Model: "gpt-4o"}})
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "r1", got.Events[0].RequestID)
}

func TestSendClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		code      string
		retryable bool
	}{
		{http.StatusInternalServerError, `{}`, models.CodeTelemetryFailed, true},
		{http.StatusTooManyRequests, `{"error":{"code":"RATE_LIMIT_EXCEEDED","message":"slow down"}}`, models.CodeRateLimitExceeded, true},
		{http.StatusUnauthorized, `{"error":{"code":"INVALID_KEY","message":"Invalid API key"}}`, models.CodeInvalidKey, false},
		{http.StatusBadRequest, `not json`, models.CodeTelemetryFailed, false},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			err := tr.Send(context.Background(), []models.TelemetryPayload{{}})
			var appErr *models.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.retryable, appErr.Retryable)
			assert.Equal(t, tc.status, appErr.StatusCode)
		})
	}
}

func TestSendNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	tr := NewIngestTransport(services.NewClient(srv.URL), "tt_test_abcdefghijkl", time.Second)

	err := tr.Send(context.Background(), []models.TelemetryPayload{{}})
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, models.CodeNetwork, models.ErrorCode(err))
}

func TestSendTimeoutIsRetryable(t *testing.T) {
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	tr.timeout = 20 * time.Millisecond

	err := tr.Send(context.Background(), []models.TelemetryPayload{{}})
	require.Error(t, err)
	assert.Equal(t, models.CodeTimeout, models.ErrorCode(err))
	assert.True(t, models.IsRetryable(err))
}

func TestLegacyClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(TrackPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"success":true,"eventId":"e1"}}`))
	})
	mux.HandleFunc(BatchPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"EMPTY_BATCH","message":"No events"}}`))
	})
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","version":"2.0.0","timestamp":"2025-01-01T00:00:00.000Z"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	lc := NewLegacyClient(services.NewClient(srv.URL), "tt_test_abcdefghijkl", time.Second)
	ctx := context.Background()

	res, err := lc.Track(ctx, models.TelemetryPayload{Provider: "openai"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "e1", res.EventID)

	batch, err := lc.TrackBatch(ctx, []models.TelemetryPayload{{}, {}})
	require.NoError(t, err)
	assert.False(t, batch.Success)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, []string{"No events"}, batch.Errors)

	assert.Equal(t, "healthy", lc.Health(ctx).Status)
}

func TestLegacyHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	lc := NewLegacyClient(services.NewClient(srv.URL), "k", time.Second)

	h := lc.Health(context.Background())
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "unknown", h.Version)
}
