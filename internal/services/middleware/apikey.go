package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/apikey"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	localsAPIKey    = "api_key"
	localsRateLimit = "rate_limit"

	HeaderRemainingMinute = "X-RateLimit-Remaining-Minute"
	HeaderRemainingDay    = "X-RateLimit-Remaining-Day"
	HeaderResetMinute     = "X-RateLimit-Reset-Minute"
	HeaderResetDay        = "X-RateLimit-Reset-Day"
	HeaderProcessingTime  = "X-Processing-Time-Ms"

	retryAfterSeconds = "60"
)

type APIKeyMiddleware struct {
	keys    *apikey.Service
	limiter apikey.Limiter
}

// NewAPIKeyMiddleware creates the SDK key middleware. A nil limiter turns
// rate limiting off.
func NewAPIKeyMiddleware(keys *apikey.Service, limiter apikey.Limiter) *APIKeyMiddleware {
	return &APIKeyMiddleware{keys: keys, limiter: limiter}
}

// RequireAPIKey authenticates the bearer key, checks it grants scopes and
// applies the key's rate limits.
func (m *APIKeyMiddleware) RequireAPIKey(scopes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearerToken(c)
		if raw == "" {
			return WriteCode(c, fiber.StatusUnauthorized, models.CodeMissingAuth, "Authorization header required")
		}

		key, err := m.keys.ValidateKey(c.UserContext(), raw, scopes...)
		if err != nil {
			return WriteError(c, err)
		}
		c.Locals(localsAPIKey, key)

		if m.limiter == nil {
			return c.Next()
		}

		res, err := m.limiter.Check(c.UserContext(), key.ID, key.RateLimits)
		if err != nil {
			fiberlog.Errorf("[ratelimit] Check failed for key %s: %v", key.ID, err)
			return WriteError(c, models.NewInternalError("rate limit check failed", err))
		}

		c.Set(HeaderRemainingMinute, strconv.Itoa(res.RemainingMinute))
		c.Set(HeaderRemainingDay, strconv.Itoa(res.RemainingDay))

		if !res.Allowed {
			c.Set(HeaderResetMinute, res.ResetMinute.UTC().Format(models.TimestampLayout))
			c.Set(HeaderResetDay, res.ResetDay.UTC().Format(models.TimestampLayout))
			c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    models.CodeRateLimitExceeded,
					"message": "Rate limit exceeded",
					"resetAt": res.ResetMinute.UTC().Format(models.TimestampLayout),
				},
			})
		}

		c.Locals(localsRateLimit, res)
		return c.Next()
	}
}

// APIKeyFrom returns the key validated for this request.
func APIKeyFrom(c *fiber.Ctx) (*models.ValidatedAPIKey, bool) {
	key, ok := c.Locals(localsAPIKey).(*models.ValidatedAPIKey)
	return key, ok && key != nil
}

func RateLimitFrom(c *fiber.Ctx) (models.RateLimitResult, bool) {
	res, ok := c.Locals(localsRateLimit).(models.RateLimitResult)
	return res, ok
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// ProcessingTime reports handler latency in X-Processing-Time-Ms.
func ProcessingTime() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		c.Set(HeaderProcessingTime, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		return err
	}
}
