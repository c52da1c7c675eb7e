package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetAfter       time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetAfter:       30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the breaker's counters.
type Snapshot struct {
	State             State
	Failures          int
	LastFailureAt     time.Time
	HalfOpenSuccesses int
}

// CircuitBreaker guards delivery to one downstream. It is safe for
// concurrent use and never persisted.
type CircuitBreaker struct {
	mu       sync.Mutex
	name     string
	config   Config
	now      func() time.Time
	state    State
	failures int
	lastFail time.Time
	// successes counted since entering half-open
	successes int
}

type Option func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

func New(name string, config Config, opts ...Option) *CircuitBreaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = def.ResetAfter
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  Closed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// CanExecute reports whether a send may proceed. An open breaker whose reset
// window has elapsed moves to half-open and lets the caller through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if cb.now().Sub(cb.lastFail) >= cb.config.ResetAfter {
			cb.transition(HalfOpen)
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(Closed)
			cb.failures = 0
			cb.successes = 0
		}
	case Closed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFail = cb.now()

	switch cb.state {
	case HalfOpen:
		cb.transition(Open)
	case Closed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(Open)
		}
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:             cb.state,
		Failures:          cb.failures,
		LastFailureAt:     cb.lastFail,
		HalfOpenSuccesses: cb.successes,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
	cb.lastFail = time.Time{}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	fiberlog.Infof("[%s] Circuit breaker: %s -> %s", cb.name, cb.state, to)
	cb.state = to
}
