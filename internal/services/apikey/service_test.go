package apikey

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	svc     *Service
	db      *gorm.DB
	queries *atomic.Int32
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	env := &testEnv{db: db, queries: &atomic.Int32{}, now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:count", func(*gorm.DB) {
		env.queries.Add(1)
	}))

	env.svc = NewService(db, WithClock(func() time.Time { return env.now }))
	require.NoError(t, env.svc.AutoMigrate())
	return env
}

func (e *testEnv) createKey(t *testing.T, req models.APIKeyCreateRequest) string {
	t.Helper()
	if req.OrganizationID == "" {
		req.OrganizationID = "org-1"
	}
	if req.Name == "" {
		req.Name = "test key"
	}
	resp, err := e.svc.CreateAPIKey(context.Background(), &req)
	require.NoError(t, err)
	return resp.Key
}

func authCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return models.ErrorCode(err)
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("tt_live_abcdefghij"))
	assert.True(t, ValidFormat("tk_test_ABC-def_123"))
	assert.False(t, ValidFormat("tt_live_short"))
	assert.False(t, ValidFormat("sk_live_abcdefghijkl"))
	assert.False(t, ValidFormat("tt_prod_abcdefghijkl"))
	assert.False(t, ValidFormat("tt_live_abc defghijkl"))
	assert.False(t, ValidFormat(""))
}

func TestInvalidFormatSkipsDatastore(t *testing.T) {
	env := newTestEnv(t)
	before := env.queries.Load()

	_, err := env.svc.ValidateKey(context.Background(), "not-a-key")

	assert.Equal(t, models.CodeInvalidKeyFormat, authCode(t, err))
	assert.Equal(t, before, env.queries.Load())

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 401, appErr.GetStatusCode())
}

func TestValidateKeyAndCache(t *testing.T) {
	env := newTestEnv(t)
	raw := env.createKey(t, models.APIKeyCreateRequest{UserID: "u1"})
	ctx := context.Background()

	key, err := env.svc.ValidateKey(ctx, raw, models.ScopeUsageWrite)
	require.NoError(t, err)
	assert.Equal(t, "org-1", key.OrgID)
	assert.Equal(t, "u1", key.UserID)
	assert.Equal(t, models.RateLimits{PerMinute: 1000, PerDay: 100000}, key.RateLimits)
	afterFirst := env.queries.Load()

	_, err = env.svc.ValidateKey(ctx, raw, models.ScopeUsageRead)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, env.queries.Load(), "cache hit must not query")

	// cached keys still enforce scopes
	_, err = env.svc.ValidateKey(ctx, raw, models.ScopeAdmin)
	assert.Equal(t, models.CodeInsufficientScope, authCode(t, err))

	env.now = env.now.Add(DefaultCacheTTL)
	_, err = env.svc.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Greater(t, env.queries.Load(), afterFirst)
}

func TestPruneDropsExpiredValidations(t *testing.T) {
	env := newTestEnv(t)
	raw := env.createKey(t, models.APIKeyCreateRequest{})

	_, err := env.svc.ValidateKey(context.Background(), raw)
	require.NoError(t, err)
	assert.Zero(t, env.svc.Prune())

	// let the last_used_at stamp finish reading the clock
	require.Eventually(t, func() bool {
		var k models.APIKey
		return env.db.First(&k, "key_hash = ?", models.HashAPIKey(raw)).Error == nil && k.LastUsedAt != nil
	}, time.Second, 10*time.Millisecond)

	env.now = env.now.Add(DefaultCacheTTL)
	assert.Equal(t, 1, env.svc.Prune())
	assert.Zero(t, env.svc.cache.Len())
}

func TestLastUsedIsStamped(t *testing.T) {
	env := newTestEnv(t)
	raw := env.createKey(t, models.APIKeyCreateRequest{})

	_, err := env.svc.ValidateKey(context.Background(), raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var k models.APIKey
		if err := env.db.First(&k, "key_hash = ?", models.HashAPIKey(raw)).Error; err != nil {
			return false
		}
		return k.LastUsedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ValidateKey(context.Background(), "tt_live_doesnotexist123")
	assert.Equal(t, models.CodeInvalidKey, authCode(t, err))
}

func TestExpiredKey(t *testing.T) {
	env := newTestEnv(t)
	past := env.now.Add(-time.Hour)
	raw := env.createKey(t, models.APIKeyCreateRequest{ExpiresAt: &past})

	_, err := env.svc.ValidateKey(context.Background(), raw)
	assert.Equal(t, models.CodeKeyExpired, authCode(t, err))
}

func TestRevokeInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp, err := env.svc.CreateAPIKey(ctx, &models.APIKeyCreateRequest{OrganizationID: "org-1", Name: "k"})
	require.NoError(t, err)

	_, err = env.svc.ValidateKey(ctx, resp.Key)
	require.NoError(t, err)

	require.NoError(t, env.svc.RevokeAPIKey(ctx, resp.ID))

	_, err = env.svc.ValidateKey(ctx, resp.Key)
	assert.Equal(t, models.CodeKeyRevoked, authCode(t, err))

	err = env.svc.RevokeAPIKey(ctx, "missing")
	assert.Equal(t, models.CodeNotFound, authCode(t, err))
}

func TestScopesAndLimitsFromRecord(t *testing.T) {
	env := newTestEnv(t)
	perMinute := 5
	raw := env.createKey(t, models.APIKeyCreateRequest{Scopes: []string{models.ScopeAdmin}, RateLimitPerMinute: &perMinute})

	key, err := env.svc.ValidateKey(context.Background(), raw, models.ScopeUsageWrite, models.ScopeUsageRead)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ScopeAdmin}, key.Scopes)
	assert.Equal(t, 5, key.RateLimits.PerMinute)
	assert.Equal(t, models.DefaultRateLimitPerDay, key.RateLimits.PerDay)
}

func TestMissingScopesDefault(t *testing.T) {
	env := newTestEnv(t)
	raw := "tt_live_legacykeywithoutscopes"
	require.NoError(t, env.db.Create(&models.APIKey{
		OrganizationID: "org-1",
		Name:           "legacy",
		KeyHash:        models.HashAPIKey(raw),
	}).Error)

	key, err := env.svc.ValidateKey(context.Background(), raw, models.ScopeUsageRead)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultScopes, key.Scopes)

	_, err = env.svc.ValidateKey(context.Background(), raw, models.ScopeAdmin)
	assert.Equal(t, models.CodeInsufficientScope, authCode(t, err))
}

func TestCreateAPIKeyRequiresFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateAPIKey(context.Background(), &models.APIKeyCreateRequest{Name: "x"})
	require.Error(t, err)

	resp, err := env.svc.CreateAPIKey(context.Background(), &models.APIKeyCreateRequest{OrganizationID: "o", Name: "x", Test: true})
	require.NoError(t, err)
	assert.True(t, ValidFormat(resp.Key))
	assert.Contains(t, resp.Key, "tt_test_")
	assert.Equal(t, models.HashAPIKey(resp.Key), resp.KeyHash)
}
