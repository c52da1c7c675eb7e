package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(c *clock) *CircuitBreaker {
	return New("test", Config{FailureThreshold: 5, SuccessThreshold: 3, ResetAfter: 30 * time.Second}, WithClock(c.now))
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(c)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		require.Equal(t, Closed, cb.GetState())
		require.True(t, cb.CanExecute())
	}
	cb.RecordFailure()

	assert.Equal(t, Open, cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestSuccessInClosedResetsFailureCount(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(c)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, Closed, cb.GetState())
	assert.Equal(t, 1, cb.Snapshot().Failures)
}

func TestHalfOpenAfterResetWindow(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(c)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	c.advance(29 * time.Second)
	assert.False(t, cb.CanExecute())

	c.advance(time.Second)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, HalfOpen, cb.GetState())
}

func TestHalfOpenClosesAfterThreeSuccesses(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(c)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	c.advance(30 * time.Second)
	require.True(t, cb.CanExecute())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, HalfOpen, cb.GetState())
	cb.RecordSuccess()

	snap := cb.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.Failures)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(c)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	c.advance(30 * time.Second)
	require.True(t, cb.CanExecute())

	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, Open, cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestResetAndStateNames(t *testing.T) {
	cb := New("test", Config{})
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	assert.Equal(t, Closed, cb.GetState())

	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
}
