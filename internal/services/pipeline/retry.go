package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const defaultMaxJitter = time.Second

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier runs one delivery attempt plus up to MaxRetries retries with
// exponential backoff: attempt n waits BaseDelay*2^n plus up to MaxJitter.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxJitter  time.Duration

	sleep Sleeper
	rand  func() float64
}

func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrier{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxJitter:  defaultMaxJitter,
		sleep:      contextSleep,
		rand:       rand.Float64,
	}
}

// Delay is the wait after the failed attempt n (0-indexed).
func (r *Retrier) Delay(attempt int) time.Duration {
	backoff := r.BaseDelay << attempt
	jitter := time.Duration(r.rand() * float64(r.MaxJitter))
	return backoff + jitter
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Non-retryable errors return without sleeping.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || !models.IsRetryable(err) {
			return err
		}

		if attempt < r.MaxRetries {
			delay := r.Delay(attempt)
			fiberlog.Debugf("[tokentra] Retry attempt %d after %s", attempt+1, delay)
			if err := r.sleep(ctx, delay); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}
