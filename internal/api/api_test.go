package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/apikey"
	"github.com/Egham-7/tokentra/internal/services/attribution"
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/routing"
	"github.com/Egham-7/tokentra/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []usage.BatchTask
}

func (r *recordingSubmitter) Submit(task usage.BatchTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return true
}

type testServer struct {
	app        *fiber.App
	db         *gorm.DB
	submitter  *recordingSubmitter
	key        string
	keyID      string
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	keys := apikey.NewService(db)
	resolver := attribution.NewResolver(db)
	usageService := usage.NewService(db)
	store := routing.NewConfigStore(db)
	require.NoError(t, keys.AutoMigrate())
	require.NoError(t, resolver.AutoMigrate())
	require.NoError(t, usageService.AutoMigrate())
	require.NoError(t, store.AutoMigrate())

	created, err := keys.CreateAPIKey(context.Background(), &models.APIKeyCreateRequest{OrganizationID: "org-1", Name: "sdk"})
	require.NoError(t, err)

	adminAuth := middleware.NewAdminAuth("admin-secret")
	token, err := adminAuth.MintToken("ops", time.Hour)
	require.NoError(t, err)

	s := &testServer{db: db, submitter: &recordingSubmitter{}, key: created.Key, keyID: created.ID, adminToken: token}

	ingest := NewIngestHandler(resolver, usageService, s.submitter, 0)
	legacy := NewLegacyHandler(ingest)
	optimization := NewOptimizationHandler(store)
	health := NewHealthHandler(db, nil)
	admin := NewAdminHandler(keys, usageService)
	keyAuth := middleware.NewAPIKeyMiddleware(keys, apikey.NewMemoryLimiter(nil))

	app := fiber.New()
	app.Get("/health", health.HealthCheck)
	app.Get("/sdk/health", health.SDKHealth)
	app.Get("/api/v1/sdk/ingest", ingest.Status)
	app.Post("/api/v1/sdk/ingest", keyAuth.RequireAPIKey(models.ScopeUsageWrite), ingest.Ingest)
	app.Post("/sdk/v1/track", keyAuth.RequireAPIKey(models.ScopeUsageWrite), legacy.Track)
	app.Post("/sdk/v1/batch", keyAuth.RequireAPIKey(models.ScopeUsageWrite), legacy.Batch)
	app.Get("/api/v1/sdk/optimization/config", keyAuth.RequireAPIKey(models.ScopeUsageRead), optimization.Config)
	adminGroup := app.Group("/admin", adminAuth.RequireAdmin())
	adminGroup.Post("/api-keys", admin.CreateAPIKey)
	adminGroup.Delete("/api-keys/:id", admin.RevokeAPIKey)
	adminGroup.Get("/api-keys/:id/usage", admin.GetUsage)

	s.app = app
	return s
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func event(requestID string) map[string]any {
	return map[string]any{
		"request_id":    requestID,
		"provider":      "openai",
		"model":         "gpt-4o",
		"input_tokens":  1000,
		"output_tokens": 500,
		"team":          "platform",
	}
}

const (
	reqA = "11111111-1111-4111-8111-111111111111"
	reqB = "22222222-2222-4222-8222-222222222222"
)

func TestIngest(t *testing.T) {
	s := newTestServer(t)
	team := models.Team{OrganizationID: "org-1", Name: "Platform"}
	require.NoError(t, s.db.Create(&team).Error)

	bad := map[string]any{"provider": "nope", "model": "x", "input_tokens": -1, "output_tokens": 1}
	resp := s.do(t, http.MethodPost, "/api/v1/sdk/ingest", s.key, map[string]any{
		"events": []any{event(reqA), event(reqB), bad},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "999", resp.Header.Get(middleware.HeaderRemainingMinute))

	body := decode[ingestResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.Processed)
	assert.Equal(t, 1, body.Failed)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, 2, body.Errors[0].Index)

	var records []models.UsageRecord
	require.NoError(t, s.db.Order("request_id ASC").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, reqA, records[0].RequestID)
	assert.Equal(t, "org-1", records[0].OrganizationID)
	assert.Equal(t, s.keyID, records[0].APIKeyID)
	assert.Equal(t, team.ID, records[0].TeamID)
	assert.InDelta(t, 0.0025, records[0].InputCost, 1e-12)
	assert.InDelta(t, 0.005, records[0].OutputCost, 1e-12)
	assert.Equal(t, "production", records[0].Environment)
	assert.Equal(t, "typescript", records[0].SDKLanguage)

	require.Len(t, s.submitter.tasks, 1)
	assert.Equal(t, "org-1", s.submitter.tasks[0].OrgID)
	assert.Len(t, s.submitter.tasks[0].Records, 2)

	var hourly int64
	require.NoError(t, s.db.Model(&models.UsageHourly{}).Count(&hourly).Error)
	assert.EqualValues(t, 1, hourly)
}

func TestIngestRejectsBadEnvelopes(t *testing.T) {
	s := newTestServer(t)

	tooMany := make([]any, 101)
	for i := range tooMany {
		tooMany[i] = event("")
	}

	tests := []struct {
		name string
		body any
		code string
	}{
		{"not json", "{", models.CodeInvalidRequest},
		{"missing events", map[string]any{}, models.CodeInvalidRequest},
		{"events not array", map[string]any{"events": "x"}, models.CodeInvalidRequest},
		{"empty", map[string]any{"events": []any{}}, models.CodeEmptyBatch},
		{"too large", map[string]any{"events": tooMany}, models.CodeBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/sdk/ingest", s.key, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, decode[middleware.ErrorBody](t, resp).Error.Code)
		})
	}
}

func TestIngestAllInvalid(t *testing.T) {
	s := newTestServer(t)
	events := make([]any, 12)
	for i := range events {
		events[i] = map[string]any{"provider": "openai"}
	}

	resp := s.do(t, http.MethodPost, "/api/v1/sdk/ingest", s.key, map[string]any{"events": events})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decode[struct {
		Error validationFailure `json:"error"`
	}](t, resp)
	assert.Equal(t, models.CodeValidation, body.Error.Code)
	assert.Equal(t, "All events failed validation", body.Error.Message)
	assert.Len(t, body.Error.Details, 10)
	assert.Contains(t, body.Error.Details[0].Errors, "model: Required")
	assert.Empty(t, s.submitter.tasks)
}

func TestIngestRequiresKey(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/v1/sdk/ingest", "", map[string]any{"events": []any{event(reqA)}})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeMissingAuth, decode[middleware.ErrorBody](t, resp).Error.Code)
}

func TestIngestStatus(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/v1/sdk/ingest", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2.0", body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestLegacyTrack(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/sdk/v1/track", s.key, map[string]any{"event": event(reqA)})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[struct {
		Success bool `json:"success"`
		Data    struct {
			Success bool   `json:"success"`
			EventID string `json:"eventId"`
		} `json:"data"`
	}](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, reqA, body.Data.EventID)

	resp = s.do(t, http.MethodPost, "/sdk/v1/track", s.key, map[string]any{"event": map[string]any{"provider": "openai"}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	failure := decode[models.APIResponse](t, resp)
	assert.False(t, failure.Success)
	require.NotNil(t, failure.Error)
	assert.Equal(t, models.CodeValidation, failure.Error.Code)

	resp = s.do(t, http.MethodPost, "/sdk/v1/track", s.key, map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLegacyBatch(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/sdk/v1/batch", s.key, map[string]any{
		"events": []any{event(reqA), map[string]any{"model": "x"}},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[struct {
		Success bool               `json:"success"`
		Data    models.BatchResult `json:"data"`
	}](t, resp)
	assert.True(t, body.Success)
	assert.False(t, body.Data.Success)
	assert.Equal(t, 1, body.Data.Processed)
	assert.Equal(t, 1, body.Data.Failed)
	require.Len(t, body.Data.Errors, 1)

	resp = s.do(t, http.MethodPost, "/sdk/v1/batch", s.key, map[string]any{"events": []any{}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	failure := decode[models.APIResponse](t, resp)
	require.NotNil(t, failure.Error)
	assert.Equal(t, models.CodeEmptyBatch, failure.Error.Code)
}

func TestOptimizationConfig(t *testing.T) {
	s := newTestServer(t)
	store := routing.NewConfigStore(s.db)
	ctx := context.Background()
	threshold := 0.8
	require.NoError(t, store.SaveSettings(ctx, &models.OrganizationSettings{OrganizationID: "org-1", CacheSimilarityThreshold: &threshold}))
	require.NoError(t, store.CreateMapping(ctx, &models.ModelMappingRecord{OrganizationID: "org-1", SourceModel: "gpt-4o", TargetModel: "gpt-4o-mini"}))

	resp := s.do(t, http.MethodGet, "/api/v1/sdk/optimization/config", s.key, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "private, max-age=300", resp.Header.Get("Cache-Control"))

	cfg := decode[models.OptimizationConfig](t, resp)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.EnableRouting, "routing needs at least one rule")
	assert.Equal(t, 0.8, cfg.CacheSimilarityThreshold)
	require.Len(t, cfg.ModelMappings, 1)
	assert.Equal(t, "gpt-4o-mini", cfg.ModelMappings[0].TargetModel)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/sdk/health", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	sdk := decode[models.HealthResponse](t, resp)
	assert.Equal(t, "healthy", sdk.Status)
	assert.Equal(t, models.SDKVersion, sdk.Version)

	resp = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"database": "healthy"}, body["checks"])

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	resp = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminKeys(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/admin/api-keys", "", map[string]any{"organization_id": "org-2", "name": "ci"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/admin/api-keys", s.adminToken, map[string]any{"organization_id": "org-2", "name": "ci", "scopes": []string{"usage:read"}})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	created := decode[models.APIKeyResponse](t, resp)
	assert.True(t, strings.HasPrefix(created.Key, "tt_live_"))
	assert.Equal(t, "org-2", created.OrganizationID)

	// read-only key cannot ingest
	resp = s.do(t, http.MethodPost, "/api/v1/sdk/ingest", created.Key, map[string]any{"events": []any{event(reqA)}})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/admin/api-keys", s.adminToken, map[string]any{"name": "missing org"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/admin/api-keys/"+s.keyID, s.adminToken, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/sdk/ingest", s.key, map[string]any{"events": []any{event(reqA)}})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeKeyRevoked, decode[middleware.ErrorBody](t, resp).Error.Code)

	resp = s.do(t, http.MethodDelete, "/admin/api-keys/does-not-exist", s.adminToken, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAdminUsage(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/v1/sdk/ingest", s.key, map[string]any{"events": []any{event(reqA), event(reqB)}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/admin/api-keys/%s/usage?limit=1", s.keyID), s.adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[struct {
		Usage []models.UsageRecord `json:"usage"`
		Limit int                  `json:"limit"`
	}](t, resp)
	assert.Len(t, body.Usage, 1)
	assert.Equal(t, 1, body.Limit)
}
