package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// checkAndIncr reads both counters and increments both only when each is
// under its limit. Returns {allowed, minuteCount, dayCount}.
var checkAndIncr = redis.NewScript(`
local m = tonumber(redis.call('GET', KEYS[1]) or '0')
local d = tonumber(redis.call('GET', KEYS[2]) or '0')
if m >= tonumber(ARGV[1]) or d >= tonumber(ARGV[2]) then
  return {0, m, d}
end
m = redis.call('INCR', KEYS[1])
if m == 1 then redis.call('EXPIRE', KEYS[1], ARGV[3]) end
d = redis.call('INCR', KEYS[2])
if d == 1 then redis.call('EXPIRE', KEYS[2], ARGV[4]) end
return {1, m, d}
`)

// RedisLimiter shares the bucketed counters across collector instances.
// When redis is unavailable it fails open.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, prefix: "tokentra:ratelimit", now: now}
}

func (l *RedisLimiter) Check(ctx context.Context, keyID string, limits models.RateLimits) (models.RateLimitResult, error) {
	now := l.now().Unix()
	mb, db := now/minuteWindow, now/dayWindow

	res := models.RateLimitResult{
		ResetMinute: time.Unix((mb+1)*minuteWindow, 0).UTC(),
		ResetDay:    time.Unix((db+1)*dayWindow, 0).UTC(),
	}

	keys := []string{
		fmt.Sprintf("%s:%s:m:%d", l.prefix, keyID, mb),
		fmt.Sprintf("%s:%s:d:%d", l.prefix, keyID, db),
	}
	// counters expire shortly after their bucket ends
	vals, err := checkAndIncr.Run(ctx, l.client, keys,
		limits.PerMinute, limits.PerDay, minuteWindow*2, dayWindow+3600,
	).Int64Slice()
	if err != nil || len(vals) != 3 {
		fiberlog.Warnf("[ratelimit] Redis check failed for key %s, allowing request: %v", keyID, err)
		res.Allowed = true
		res.RemainingMinute = limits.PerMinute
		res.RemainingDay = limits.PerDay
		return res, nil
	}

	minute, day := int(vals[1]), int(vals[2])
	res.Allowed = vals[0] == 1
	if !res.Allowed {
		if minute >= limits.PerMinute {
			res.ExceededWindow = WindowMinute
		} else {
			res.ExceededWindow = WindowDay
		}
	}
	res.RemainingMinute = max(0, limits.PerMinute-minute)
	res.RemainingDay = max(0, limits.PerDay-day)
	return res, nil
}
