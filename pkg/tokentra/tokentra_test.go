package tokentra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services"
	"github.com/Egham-7/tokentra/internal/services/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.TelemetryPayload
}

func (s *recordingSink) Send(_ context.Context, batch []models.TelemetryPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]models.TelemetryPayload(nil), batch...))
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func newTestClient(t *testing.T, cfg Config, source routing.ConfigSource, cache ResponseCache) (*Client, *recordingSink) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdk/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.HealthResponse{Status: "healthy", Version: Version, Timestamp: "2026-01-01T00:00:00.000Z"})
	}))
	t.Cleanup(srv.Close)

	if cfg.APIKey == "" {
		cfg.APIKey = "tt_live_test"
	}
	cfg.BaseURL = srv.URL
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	if source == nil {
		source = routing.StaticConfigSource{Config: models.DisabledOptimizationConfig()}
	}

	sink := &recordingSink{}
	c := newClient(cfg, services.NewClient(srv.URL), sink, source, cache)
	c.newRequestID = func() string { return "req-1" }
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c, sink
}

func onlyQueued(t *testing.T, c *Client) models.TelemetryPayload {
	t.Helper()
	queued := c.pipeline.Queued()
	require.Len(t, queued, 1)
	return queued[0]
}

func TestNewRequiresAPIKey(t *testing.T) {
	c, err := New(Config{})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, models.CodeInvalidAPIKey, models.ErrorCode(err))
}

func TestTrackMergesContext(t *testing.T) {
	c, _ := newTestClient(t, Config{
		Defaults: Context{
			Team:        "platform",
			Environment: "staging",
			Metadata:    Metadata{"region": "eu"},
		},
	}, nil, nil)

	c.SetContext(Context{Feature: "search", Metadata: Metadata{"tier": "pro", "region": "us"}})
	c.SetContext(Context{Project: "atlas"})

	c.Track(TrackingEvent{
		Provider: "openai",
		Model:    "gpt-4o",
		Feature:  "chat",
		Metadata: Metadata{"tier": "free"},
	})

	p := onlyQueued(t, c)
	assert.Equal(t, "chat", p.Feature)
	assert.Equal(t, "platform", p.Team)
	assert.Equal(t, "atlas", p.Project)
	assert.Equal(t, "staging", p.Environment)
	assert.Equal(t, "us", p.Metadata["region"])
	assert.Equal(t, "free", p.Metadata["tier"])
	assert.Equal(t, models.SDKLanguage, p.SDKLanguage)
}

func TestClearContextKeepsConfigDefaults(t *testing.T) {
	c, _ := newTestClient(t, Config{
		Defaults: Context{Metadata: Metadata{"region": "eu"}},
	}, nil, nil)

	c.SetContext(Context{Project: "atlas", Metadata: Metadata{"tier": "pro"}})
	c.ClearContext()
	c.Track(TrackingEvent{Provider: "openai", Model: "gpt-4o"})

	p := onlyQueued(t, c)
	assert.Empty(t, p.Project)
	assert.Equal(t, "eu", p.Metadata["region"])
	assert.NotContains(t, p.Metadata, "tier")
}

func TestGetRoutingDecision(t *testing.T) {
	source := routing.StaticConfigSource{Config: models.OptimizationConfig{
		Enabled:       true,
		EnableRouting: true,
		RoutingRules: []models.RoutingRule{{
			ID:             "r1",
			Name:           "cheap chat",
			Priority:       1,
			Conditions:     []models.RoutingCondition{{Field: "model", Operator: models.OpEq, Value: "gpt-4o"}},
			TargetModel:    "gpt-4o-mini",
			TargetProvider: "openai",
		}},
		ModelMappings: []models.ModelMapping{},
	}}
	c, _ := newTestClient(t, Config{}, source, nil)

	req := RoutingRequest{
		Model:    "gpt-4o",
		Provider: "openai",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}

	decision := c.GetRoutingDecision(context.Background(), req)
	assert.True(t, decision.ShouldRoute)
	assert.Equal(t, "gpt-4o-mini", decision.TargetModel)
	assert.Equal(t, "r1", decision.RuleID)

	c.SetOptimizationEnabled(false)
	decision = c.GetRoutingDecision(context.Background(), req)
	assert.False(t, decision.ShouldRoute)
	assert.Equal(t, "gpt-4o", decision.TargetModel)
	assert.Equal(t, "openai", decision.TargetProvider)
	assert.Equal(t, "Optimization disabled", decision.Reason)
	assert.Zero(t, decision.EstimatedSavingsPercent)
}

func TestDisableOptimizationConfig(t *testing.T) {
	c, _ := newTestClient(t, Config{DisableOptimization: true}, nil, nil)
	assert.False(t, c.OptimizationEnabled())
	assert.Equal(t, "Optimization disabled",
		c.GetRoutingDecision(context.Background(), RoutingRequest{Model: "gpt-4o"}).Reason)
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(t, Config{}, nil, nil)

	h := c.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, Version, h.Version)
}

func TestShutdownDeliversQueuedEvents(t *testing.T) {
	c, sink := newTestClient(t, Config{}, nil, nil)

	for i := 0; i < 3; i++ {
		c.Track(TrackingEvent{Provider: "openai", Model: "gpt-4o", InputTokens: 10})
	}
	c.Shutdown(context.Background())
	c.Shutdown(context.Background())

	assert.Equal(t, 3, sink.count())
	stats := c.Stats()
	assert.Equal(t, int64(3), stats.RequestsTracked)
	assert.Equal(t, int64(3), stats.TelemetrySent)
	assert.Zero(t, stats.TelemetryBuffered)

	// events after shutdown are dropped
	c.Track(TrackingEvent{Provider: "openai", Model: "gpt-4o"})
	assert.Equal(t, int64(3), c.Stats().RequestsTracked)
}

func TestEventsStream(t *testing.T) {
	c, _ := newTestClient(t, Config{}, nil, nil)

	c.Track(TrackingEvent{RequestID: "req-42", Provider: "openai", Model: "gpt-4o"})

	select {
	case e := <-c.Events():
		assert.Equal(t, EventQueued, e.Type)
		require.NotNil(t, e.Payload)
		assert.Equal(t, "req-42", e.Payload.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no lifecycle event")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
		wantCode string
	}{
		{"deadline", context.DeadlineExceeded, "timeout", "TIMEOUT"},
		{"wrapped deadline", errors.Join(errors.New("call failed"), context.DeadlineExceeded), "timeout", "TIMEOUT"},
		{"canceled", context.Canceled, "unknown", "CANCELED"},
		{"plain", errors.New("boom"), "unknown", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotCode := classifyError(tt.err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantCode, gotCode)
		})
	}
}
