package apikey

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/utils/ttlcache"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const DefaultCacheTTL = 60 * time.Second

var keyFormat = regexp.MustCompile(`^(tt|tk)_(live|test)_[A-Za-z0-9_-]{10,}$`)

// ValidFormat reports whether raw looks like an SDK key.
func ValidFormat(raw string) bool {
	return keyFormat.MatchString(raw)
}

type Option func(*Service)

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithClock replaces time.Now for expiry checks and the cache.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service validates SDK keys against the api_keys table. Successful
// validations are cached by key hash.
type Service struct {
	db       *gorm.DB
	cache    *ttlcache.Cache[*models.ValidatedAPIKey]
	cacheTTL time.Duration
	now      func() time.Time
}

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, cacheTTL: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = ttlcache.New[*models.ValidatedAPIKey](s.cacheTTL, ttlcache.WithClock(s.now))
	return s
}

func (s *Service) AutoMigrate() error {
	return Migrate(s.db)
}

// ValidateKey authenticates rawKey and checks it grants every required
// scope. Failures are *models.AppError values carrying the auth error code.
func (s *Service) ValidateKey(ctx context.Context, rawKey string, requiredScopes ...string) (*models.ValidatedAPIKey, error) {
	if !ValidFormat(rawKey) {
		return nil, models.NewAuthError(models.CodeInvalidKeyFormat, "API key format is invalid")
	}

	keyHash := models.HashAPIKey(rawKey)

	if cached, ok := s.cache.Get(keyHash); ok {
		if err := checkScopes(cached, requiredScopes); err != nil {
			return nil, err
		}
		return cached, nil
	}

	var key models.APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", keyHash).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewAuthError(models.CodeInvalidKey, "API key not found")
		}
		return nil, models.NewInternalError("failed to look up API key", err)
	}

	if key.RevokedAt != nil {
		return nil, models.NewAuthError(models.CodeKeyRevoked, "API key has been revoked")
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(s.now()) {
		return nil, models.NewAuthError(models.CodeKeyExpired, "API key has expired")
	}

	validated := toValidated(&key)
	if err := checkScopes(validated, requiredScopes); err != nil {
		return nil, err
	}

	s.cache.Set(keyHash, validated)

	go s.touch(key.ID)

	return validated, nil
}

func toValidated(key *models.APIKey) *models.ValidatedAPIKey {
	scopes := []string(key.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), models.DefaultScopes...)
	}

	limits := models.RateLimits{
		PerMinute: models.DefaultRateLimitPerMinute,
		PerDay:    models.DefaultRateLimitPerDay,
	}
	if key.RateLimitPerMinute != nil && *key.RateLimitPerMinute > 0 {
		limits.PerMinute = *key.RateLimitPerMinute
	}
	if key.RateLimitPerDay != nil && *key.RateLimitPerDay > 0 {
		limits.PerDay = *key.RateLimitPerDay
	}

	return &models.ValidatedAPIKey{
		ID:         key.ID,
		OrgID:      key.OrganizationID,
		UserID:     key.UserID,
		Scopes:     scopes,
		RateLimits: limits,
	}
}

func checkScopes(key *models.ValidatedAPIKey, required []string) error {
	for _, scope := range required {
		if !key.HasScope(scope) {
			return models.NewScopeError(required)
		}
	}
	return nil
}

// touch stamps last_used_at. It runs detached from the request so it gets
// its own deadline.
func (s *Service) touch(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", s.now()).Error
	if err != nil {
		fiberlog.Errorf("[apikey] Failed to update usage stats for key %s: %v", id, err)
	}
}

// InvalidateKey drops a cached validation.
func (s *Service) InvalidateKey(keyHash string) {
	s.cache.Delete(keyHash)
}

func (s *Service) Prune() int {
	return s.cache.Prune()
}

// CreateAPIKey issues a key. The raw key is only ever returned here.
func (s *Service) CreateAPIKey(ctx context.Context, req *models.APIKeyCreateRequest) (*models.APIKeyResponse, error) {
	if req.OrganizationID == "" {
		return nil, models.NewValidationError("organization_id is required", nil)
	}
	if req.Name == "" {
		return nil, models.NewValidationError("name is required", nil)
	}

	raw, err := models.GenerateAPIKey(req.Test)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = models.DefaultScopes
	}

	key := models.APIKey{
		OrganizationID:     req.OrganizationID,
		UserID:             req.UserID,
		Name:               req.Name,
		KeyHash:            models.HashAPIKey(raw),
		KeyPrefix:          models.ExtractKeyPrefix(raw),
		Scopes:             models.StringList(scopes),
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerDay:    req.RateLimitPerDay,
		ExpiresAt:          req.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &models.APIKeyResponse{APIKey: key, Key: raw}, nil
}

// RevokeAPIKey marks a key revoked and evicts it from the cache.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	var key models.APIKey
	if err := s.db.WithContext(ctx).First(&key, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("API key")
		}
		return fmt.Errorf("failed to get API key: %w", err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&key).Update("revoked_at", now).Error; err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	s.InvalidateKey(key.KeyHash)
	return nil
}
