package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ScopeUsageWrite = "usage:write"
	ScopeUsageRead  = "usage:read"
	ScopeAdmin      = "admin"

	DefaultRateLimitPerMinute = 1000
	DefaultRateLimitPerDay    = 100000
)

// DefaultScopes are granted to keys stored without explicit scopes.
var DefaultScopes = []string{ScopeUsageWrite, ScopeUsageRead}

// APIKey is a stored SDK key. Only the sha256 hash of the raw key is kept.
type APIKey struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID     string     `gorm:"not null;size:36;index" json:"organization_id"`
	UserID             string     `gorm:"size:255;index" json:"user_id,omitempty"`
	Name               string     `gorm:"not null;size:255" json:"name"`
	KeyHash            string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	KeyPrefix          string     `gorm:"index;size:16" json:"key_prefix"`
	Scopes             StringList `json:"scopes"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int       `json:"rate_limit_per_day,omitempty"`
	ExpiresAt          *time.Time `gorm:"index" json:"expires_at,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// RateLimits are the per-key request ceilings.
type RateLimits struct {
	PerMinute int `json:"perMinute"`
	PerDay    int `json:"perDay"`
}

// ValidatedAPIKey is the cached result of a successful key validation.
type ValidatedAPIKey struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"orgId"`
	UserID     string     `json:"userId,omitempty"`
	Scopes     []string   `json:"scopes"`
	RateLimits RateLimits `json:"rateLimits"`
}

// HasScope reports whether the key grants scope, directly or through admin.
func (k *ValidatedAPIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed         bool      `json:"allowed"`
	RemainingMinute int       `json:"remainingMinute"`
	RemainingDay    int       `json:"remainingDay"`
	ResetMinute     time.Time `json:"resetMinute"`
	ResetDay        time.Time `json:"resetDay"`
	ExceededWindow  string    `json:"exceededWindow,omitempty"`
}

// APIKeyCreateRequest is the admin request body for issuing a key.
type APIKeyCreateRequest struct {
	OrganizationID     string     `json:"organization_id"`
	UserID             string     `json:"user_id,omitempty"`
	Name               string     `json:"name"`
	Scopes             []string   `json:"scopes,omitempty"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int       `json:"rate_limit_per_day,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Test               bool       `json:"test,omitempty"`
}

// APIKeyResponse carries the raw key exactly once, on creation.
type APIKeyResponse struct {
	APIKey
	Key string `json:"key,omitempty"`
}

// GenerateAPIKey returns a new raw key in the tt_live_/tt_test_ format.
func GenerateAPIKey(test bool) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	env := "live"
	if test {
		env = "test"
	}
	return "tt_" + env + "_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

func ExtractKeyPrefix(key string) string {
	if len(key) < 12 {
		return key
	}
	return key[:12]
}
