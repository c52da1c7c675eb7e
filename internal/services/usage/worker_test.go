package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFunc func(ctx context.Context, orgID string, records []models.UsageRecord) error

func (f processorFunc) ProcessEvents(ctx context.Context, orgID string, records []models.UsageRecord) error {
	return f(ctx, orgID, records)
}

func TestWorkerDrainsOnStop(t *testing.T) {
	var mu sync.Mutex
	var orgs []string
	w := NewWorker(processorFunc(func(_ context.Context, orgID string, _ []models.UsageRecord) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		orgs = append(orgs, orgID)
		mu.Unlock()
		return nil
	}), 2, 10)

	for _, org := range []string{"a", "b", "c", "d"} {
		require.True(t, w.Submit(BatchTask{OrgID: org}))
	}
	w.Stop()

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, orgs)
	assert.False(t, w.Submit(BatchTask{OrgID: "late"}))

	// idempotent
	w.Stop()
}

func TestWorkerDropsWhenBufferFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	w := NewWorker(processorFunc(func(context.Context, string, []models.UsageRecord) error {
		started <- struct{}{}
		<-release
		return nil
	}), 1, 1)

	require.True(t, w.Submit(BatchTask{OrgID: "a"}))
	<-started
	require.True(t, w.Submit(BatchTask{OrgID: "b"}))
	assert.False(t, w.Submit(BatchTask{OrgID: "c"}))

	close(release)
	w.Stop()
}

func TestWorkerSurvivesErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	w := NewWorker(processorFunc(func(_ context.Context, orgID string, _ []models.UsageRecord) error {
		mu.Lock()
		calls++
		mu.Unlock()
		switch orgID {
		case "panic":
			panic("boom")
		case "err":
			return errors.New("failed")
		}
		return nil
	}), 1, 10)

	w.Submit(BatchTask{OrgID: "panic"})
	w.Submit(BatchTask{OrgID: "err"})
	w.Submit(BatchTask{OrgID: "ok"})
	w.Stop()

	assert.Equal(t, 3, calls)
}
