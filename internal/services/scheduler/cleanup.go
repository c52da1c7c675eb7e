package scheduler

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// CooldownPruner deletes expired alert cooldowns.
type CooldownPruner interface {
	PruneCooldowns(ctx context.Context) (int64, error)
}

// Pruner drops expired in-process state: limiter windows, cached key
// validations and attribution lookups.
type Pruner interface {
	Prune() int
}

type namedPruner struct {
	what string
	p    Pruner
}

type CleanupScheduler struct {
	cooldowns CooldownPruner
	pruners   []namedPruner
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewCleanupScheduler(cooldowns CooldownPruner, interval time.Duration) *CleanupScheduler {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &CleanupScheduler{
		cooldowns: cooldowns,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// AddPruner registers p to run on every tick; what names the entries in
// log lines. Call before Start.
func (s *CleanupScheduler) AddPruner(what string, p Pruner) *CleanupScheduler {
	if p != nil {
		s.pruners = append(s.pruners, namedPruner{what: what, p: p})
	}
	return s
}

func (s *CleanupScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("[scheduler] Cleanup scheduler started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			fiberlog.Info("[scheduler] Cleanup scheduler stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("[scheduler] Cleanup scheduler stopped due to context cancellation")
			return
		}
	}
}

func (s *CleanupScheduler) RunOnce(ctx context.Context) {
	if s.cooldowns != nil {
		n, err := s.cooldowns.PruneCooldowns(ctx)
		if err != nil {
			fiberlog.Errorf("[scheduler] Error pruning alert cooldowns: %v", err)
		} else if n > 0 {
			fiberlog.Debugf("[scheduler] Pruned %d expired alert cooldowns", n)
		}
	}

	for _, np := range s.pruners {
		if n := np.p.Prune(); n > 0 {
			fiberlog.Debugf("[scheduler] Pruned %d %s", n, np.what)
		}
	}
}

func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}
