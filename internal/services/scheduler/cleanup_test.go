package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCooldowns struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCooldowns) PruneCooldowns(context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakePruner struct{ calls atomic.Int32 }

func (f *fakePruner) Prune() int {
	f.calls.Add(1)
	return 1
}

func TestRunOnce(t *testing.T) {
	c := &fakeCooldowns{err: errors.New("db down")}
	limiter, keys := &fakePruner{}, &fakePruner{}
	s := NewCleanupScheduler(c, time.Minute).
		AddPruner("idle rate limit windows", limiter).
		AddPruner("expired API key validations", keys)

	s.RunOnce(context.Background())

	assert.EqualValues(t, 1, c.calls.Load())
	assert.EqualValues(t, 1, limiter.calls.Load(), "limiter pruned even when cooldown pruning fails")
	assert.EqualValues(t, 1, keys.calls.Load())
}

func TestAddPrunerIgnoresNil(t *testing.T) {
	s := NewCleanupScheduler(&fakeCooldowns{}, time.Minute).AddPruner("nothing", nil)
	assert.Empty(t, s.pruners)
	s.RunOnce(context.Background())
}

func TestRunOnceWithoutPruners(t *testing.T) {
	c := &fakeCooldowns{}
	s := NewCleanupScheduler(c, 0)

	assert.Equal(t, time.Hour, s.interval)
	s.RunOnce(context.Background())
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestStartTicksUntilStopped(t *testing.T) {
	c := &fakeCooldowns{}
	s := NewCleanupScheduler(c, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := NewCleanupScheduler(&fakeCooldowns{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
