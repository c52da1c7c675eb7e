package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/circuitbreaker"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Transport delivers one batch to the collector.
type Transport interface {
	Send(ctx context.Context, batch []models.TelemetryPayload) error
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int

	MaxRetries     int
	RetryBaseDelay time.Duration

	BreakerThreshold        int
	BreakerReset            time.Duration
	BreakerSuccessThreshold int

	// ShutdownTimeout bounds the final drain when the caller's context has
	// no deadline.
	ShutdownTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	Defaults Defaults
	OnError  func(error)
}

func DefaultConfig() Config {
	return Config{
		BatchSize:               10,
		FlushInterval:           5 * time.Second,
		MaxQueueSize:            1000,
		MaxRetries:              3,
		RetryBaseDelay:          time.Second,
		BreakerThreshold:        5,
		BreakerReset:            30 * time.Second,
		BreakerSuccessThreshold: 3,
		ShutdownTimeout:         30 * time.Second,
		EventBuffer:             64,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

// WithClock replaces time.Now for payload timestamps, lifecycle events and
// the circuit breaker.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithSleeper replaces the backoff sleep, for tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Pipeline) {
		p.retry.sleep = s
	}
}

// WithJitter replaces the jitter source; f must return values in [0, 1).
func WithJitter(f func() float64) Option {
	return func(p *Pipeline) {
		p.retry.rand = f
	}
}

// Pipeline buffers telemetry payloads and ships them in batches. Enqueue
// never blocks on the network; at most one flush runs at a time.
type Pipeline struct {
	cfg       Config
	transport Transport
	breaker   *circuitbreaker.CircuitBreaker
	retry     *Retrier
	now       func() time.Time

	mu           sync.Mutex
	queue        []models.TelemetryPayload
	stats        models.SDKStats
	shuttingDown bool

	// flushMu is the in-flight guard: a flush holds it from dequeue until
	// the batch is either acknowledged or re-queued.
	flushMu sync.Mutex

	observers []Observer
	events    chan LifecycleEvent

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	shutdown  sync.Once
}

// New starts the periodic flush loop.
func New(cfg Config, transport Transport, opts ...Option) *Pipeline {
	cfg.applyDefaults()

	p := &Pipeline{
		cfg:       cfg,
		transport: transport,
		retry:     NewRetrier(cfg.MaxRetries, cfg.RetryBaseDelay),
		now:       time.Now,
		queue:     make([]models.TelemetryPayload, 0, cfg.BatchSize),
		events:    make(chan LifecycleEvent, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = circuitbreaker.New("tokentra-ingest", circuitbreaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		ResetAfter:       cfg.BreakerReset,
	}, circuitbreaker.WithClock(p.now))

	p.runCtx, p.cancelRun = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Flush(p.runCtx); err != nil {
				p.handleError(err)
			}
		case <-p.runCtx.Done():
			return
		}
	}
}

// Enqueue adds an event. When the queue is full the oldest payload is
// evicted. Reaching BatchSize triggers a background flush.
func (p *Pipeline) Enqueue(event models.TrackingEvent) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		fiberlog.Debug("[tokentra] SDK is shutting down, dropping event")
		return
	}

	payload := ToPayload(event, p.cfg.Defaults, p.now())

	if len(p.queue) >= p.cfg.MaxQueueSize {
		p.queue = evictOldest(p.queue, len(p.queue)-p.cfg.MaxQueueSize+1)
		p.stats.TelemetryDropped++
		fiberlog.Warn("[tokentra] Queue full, dropping oldest event")
	}

	p.queue = append(p.queue, payload)
	p.stats.RequestsTracked++
	queued := len(p.queue)
	p.mu.Unlock()

	p.emit(LifecycleEvent{Type: EventQueued, Count: 1, Payload: &payload})

	if queued >= p.cfg.BatchSize {
		go func() {
			if err := p.Flush(p.runCtx); err != nil {
				p.handleError(err)
			}
		}()
	}
}

// Flush sends up to one batch. It is a no-op when the queue is empty and
// leaves the queue untouched while the circuit breaker refuses sends. On
// failure the batch is put back at the head of the queue and the delivery
// error is returned.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	if p.QueueLen() == 0 {
		return nil
	}

	if !p.breaker.CanExecute() {
		fiberlog.Debug("[tokentra] Circuit breaker open, buffering events")
		return nil
	}

	p.mu.Lock()
	n := min(p.cfg.BatchSize, len(p.queue))
	batch := make([]models.TelemetryPayload, n)
	copy(batch, p.queue[:n])
	p.queue = evictOldest(p.queue, n)
	p.mu.Unlock()

	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.transport.Send(ctx, batch)
	})

	if err == nil {
		p.breaker.RecordSuccess()
		p.mu.Lock()
		p.stats.TelemetrySent += int64(n)
		p.mu.Unlock()
		fiberlog.Debugf("[tokentra] Sent %d events successfully", n)
		p.emit(LifecycleEvent{Type: EventSent, Count: n})
		return nil
	}

	// A send aborted by shutdown says nothing about collector health.
	if !errors.Is(err, context.Canceled) {
		p.breaker.RecordFailure()
	}

	p.mu.Lock()
	requeued := make([]models.TelemetryPayload, 0, len(batch)+len(p.queue))
	requeued = append(requeued, batch...)
	requeued = append(requeued, p.queue...)
	if over := len(requeued) - p.cfg.MaxQueueSize; over > 0 {
		requeued = requeued[over:]
		p.stats.TelemetryDropped += int64(over)
	}
	p.queue = requeued
	p.stats.TelemetryFailed += int64(n)
	p.stats.Errors++
	p.mu.Unlock()

	p.emit(LifecycleEvent{Type: EventFailed, Count: n, Err: err})
	return err
}

// Shutdown stops the flush loop and drains the queue. The drain stops on the
// first delivery error, when a round makes no progress (circuit open), after
// ceil(queue/batch)+1 rounds, or when ctx or ShutdownTimeout expires. Events
// still queued afterwards are logged and discarded.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.shutdown.Do(func() {
		fiberlog.Debug("[tokentra] Shutting down...")

		p.mu.Lock()
		p.shuttingDown = true
		p.mu.Unlock()

		p.cancelRun()
		p.wg.Wait()

		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
			defer cancel()
		}

		p.drain(ctx)

		if remaining := p.QueueLen(); remaining > 0 {
			fiberlog.Warnf("[tokentra] Shutdown left %d undelivered events", remaining)
		}
		fiberlog.Debug("[tokentra] Shutdown complete")
		p.emit(LifecycleEvent{Type: EventShutdown})
	})
}

func (p *Pipeline) drain(ctx context.Context) {
	pending := p.QueueLen()
	rounds := (pending+p.cfg.BatchSize-1)/p.cfg.BatchSize + 1

	for i := 0; i < rounds && pending > 0; i++ {
		if err := ctx.Err(); err != nil {
			fiberlog.Warnf("[tokentra] Final flush abandoned: %v", err)
			return
		}
		if err := p.Flush(ctx); err != nil {
			fiberlog.Warnf("[tokentra] Final flush failed: %v", err)
			return
		}
		after := p.QueueLen()
		if after >= pending {
			fiberlog.Warnf("[tokentra] Final flush made no progress (circuit %s)", p.breaker.GetState())
			return
		}
		pending = after
	}
}

func (p *Pipeline) handleError(err error) {
	fiberlog.Errorf("[tokentra] Error: %v", err)
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
	p.emit(LifecycleEvent{Type: EventError, Err: err})
}

// Events returns a buffered stream of lifecycle events. Events are dropped
// when the reader falls behind. The channel is never closed.
func (p *Pipeline) Events() <-chan LifecycleEvent {
	return p.events
}

func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Queued returns a copy of the buffered payloads, oldest first.
func (p *Pipeline) Queued() []models.TelemetryPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.TelemetryPayload, len(p.queue))
	copy(out, p.queue)
	return out
}

func (p *Pipeline) BreakerState() circuitbreaker.State {
	return p.breaker.GetState()
}

func (p *Pipeline) Stats() models.SDKStats {
	p.mu.Lock()
	s := p.stats
	s.TelemetryBuffered = len(p.queue)
	p.mu.Unlock()
	s.CircuitBreakerState = p.breaker.GetState().String()
	return s
}

func (p *Pipeline) RecordCacheHit() {
	p.mu.Lock()
	p.stats.CacheHits++
	p.mu.Unlock()
}

func (p *Pipeline) RecordCacheMiss() {
	p.mu.Lock()
	p.stats.CacheMisses++
	p.mu.Unlock()
}

// evictOldest drops the first n payloads without retaining the old backing
// array indefinitely.
func evictOldest(q []models.TelemetryPayload, n int) []models.TelemetryPayload {
	if n >= len(q) {
		return q[:0:0]
	}
	out := make([]models.TelemetryPayload, len(q)-n, max(cap(q), len(q)-n+1))
	copy(out, q[n:])
	return out
}
