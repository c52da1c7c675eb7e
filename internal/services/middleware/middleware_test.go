package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/apikey"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newKeyService(t *testing.T) *apikey.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc := apikey.NewService(db)
	require.NoError(t, svc.AutoMigrate())
	return svc
}

func issueKey(t *testing.T, svc *apikey.Service, req models.APIKeyCreateRequest) string {
	t.Helper()
	req.OrganizationID = "org-1"
	req.Name = "test"
	resp, err := svc.CreateAPIKey(context.Background(), &req)
	require.NoError(t, err)
	return resp.Key
}

func decodeError(t *testing.T, resp *http.Response) models.APIError {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func keyApp(m *APIKeyMiddleware, scopes ...string) *fiber.App {
	app := fiber.New()
	app.Get("/", m.RequireAPIKey(scopes...), func(c *fiber.Ctx) error {
		key, ok := APIKeyFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(key.OrgID)
	})
	return app
}

func get(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRequireAPIKey(t *testing.T) {
	svc := newKeyService(t)
	raw := issueKey(t, svc, models.APIKeyCreateRequest{})
	app := keyApp(NewAPIKeyMiddleware(svc, nil), models.ScopeUsageWrite)

	resp := get(t, app, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeMissingAuth, decodeError(t, resp).Code)

	resp = get(t, app, "garbage")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidKeyFormat, decodeError(t, resp).Code)

	resp = get(t, app, "tt_live_unknownkey1234")
	assert.Equal(t, models.CodeInvalidKey, decodeError(t, resp).Code)

	resp = get(t, app, raw)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(HeaderRemainingMinute))
}

func TestRequireAPIKeyScope(t *testing.T) {
	svc := newKeyService(t)
	raw := issueKey(t, svc, models.APIKeyCreateRequest{Scopes: []string{models.ScopeUsageRead}})
	app := keyApp(NewAPIKeyMiddleware(svc, nil), models.ScopeUsageWrite)

	resp := get(t, app, raw)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	apiErr := decodeError(t, resp)
	assert.Equal(t, models.CodeInsufficientScope, apiErr.Code)
	assert.Equal(t, "API key missing required scopes: usage:write", apiErr.Message)
}

func TestRequireAPIKeyRateLimit(t *testing.T) {
	svc := newKeyService(t)
	perMinute := 2
	raw := issueKey(t, svc, models.APIKeyCreateRequest{RateLimitPerMinute: &perMinute})
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	app := keyApp(NewAPIKeyMiddleware(svc, apikey.NewMemoryLimiter(func() time.Time { return now })))

	resp := get(t, app, raw)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(HeaderRemainingMinute))
	assert.Equal(t, "99999", resp.Header.Get(HeaderRemainingDay))

	get(t, app, raw)

	resp = get(t, app, raw)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get(HeaderRemainingMinute))
	assert.Equal(t, "2025-06-01T12:01:00.000Z", resp.Header.Get(HeaderResetMinute))
	assert.Equal(t, "2025-06-02T00:00:00.000Z", resp.Header.Get(HeaderResetDay))
	assert.Equal(t, models.CodeRateLimitExceeded, decodeError(t, resp).Code)
}

func adminApp(a *AdminAuth) *fiber.App {
	app := fiber.New()
	app.Get("/", a.RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString(AdminSubject(c))
	})
	return app
}

func TestRequireAdmin(t *testing.T) {
	a := NewAdminAuth("s3cret")
	app := adminApp(a)

	token, err := a.MintToken("ops@example.com", time.Hour)
	require.NoError(t, err)

	resp := get(t, app, token)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = get(t, app, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	other, err := NewAdminAuth("other").MintToken("x", time.Hour)
	require.NoError(t, err)
	resp = get(t, app, other)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidToken, decodeError(t, resp).Code)

	expired, err := a.MintToken("x", -time.Minute)
	require.NoError(t, err)
	resp = get(t, app, expired)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "x",
		Issuer:    adminIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	resp = get(t, app, unsigned)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdminUnconfigured(t *testing.T) {
	a := NewAdminAuth("")
	_, err := a.MintToken("x", time.Hour)
	assert.Error(t, err)

	resp := get(t, adminApp(a), "anything")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestProcessingTime(t *testing.T) {
	app := fiber.New()
	app.Use(ProcessingTime())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp := get(t, app, "")
	assert.NotEmpty(t, resp.Header.Get("X-Processing-Time-Ms"))
}
