package apikey

import (
	"context"
	"sync"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
)

const (
	minuteWindow = 60
	dayWindow    = 86400

	WindowMinute = "minute"
	WindowDay    = "day"
)

// Limiter enforces per-key minute and day request ceilings.
type Limiter interface {
	Check(ctx context.Context, keyID string, limits models.RateLimits) (models.RateLimitResult, error)
}

type bucketState struct {
	minute       int
	day          int
	minuteBucket int64
	dayBucket    int64
}

// MemoryLimiter counts requests per fixed epoch bucket: floor(now/60s) for
// the minute window and floor(now/86400s) for the day window. State is
// process-local.
type MemoryLimiter struct {
	mu     sync.Mutex
	states map[string]*bucketState
	now    func() time.Time
}

func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{states: make(map[string]*bucketState), now: now}
}

// Check admits the request only when both windows are under their limits,
// then counts it against both.
func (l *MemoryLimiter) Check(_ context.Context, keyID string, limits models.RateLimits) (models.RateLimitResult, error) {
	now := l.now().Unix()
	mb, db := now/minuteWindow, now/dayWindow

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[keyID]
	if !ok {
		st = &bucketState{minuteBucket: mb, dayBucket: db}
		l.states[keyID] = st
	}
	if st.minuteBucket != mb {
		st.minute = 0
		st.minuteBucket = mb
	}
	if st.dayBucket != db {
		st.day = 0
		st.dayBucket = db
	}

	res := models.RateLimitResult{
		ResetMinute: time.Unix((mb+1)*minuteWindow, 0).UTC(),
		ResetDay:    time.Unix((db+1)*dayWindow, 0).UTC(),
	}

	switch {
	case st.minute >= limits.PerMinute:
		res.ExceededWindow = WindowMinute
	case st.day >= limits.PerDay:
		res.ExceededWindow = WindowDay
	default:
		res.Allowed = true
		st.minute++
		st.day++
	}

	res.RemainingMinute = max(0, limits.PerMinute-st.minute)
	res.RemainingDay = max(0, limits.PerDay-st.day)
	return res, nil
}

// Prune forgets keys whose day bucket has passed.
func (l *MemoryLimiter) Prune() int {
	db := l.now().Unix() / dayWindow

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, st := range l.states {
		if st.dayBucket < db {
			delete(l.states, id)
			removed++
		}
	}
	return removed
}
