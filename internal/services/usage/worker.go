package usage

import (
	"context"
	"sync"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const defaultTaskTimeout = 30 * time.Second

// BatchProcessor evaluates an ingested batch after it has been stored.
type BatchProcessor interface {
	ProcessEvents(ctx context.Context, orgID string, records []models.UsageRecord) error
}

// Worker runs batch processing off the request path.
type Worker struct {
	processor BatchProcessor
	tasks     chan BatchTask
	timeout   time.Duration
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

type BatchTask struct {
	OrgID     string
	Records   []models.UsageRecord
	RequestID string
}

// NewWorker creates a new batch processing worker with the specified pool size
func NewWorker(processor BatchProcessor, poolSize, bufferSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	w := &Worker{
		processor: processor,
		tasks:     make(chan BatchTask, bufferSize),
		timeout:   defaultTaskTimeout,
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// Submit queues a batch. It never blocks: when the buffer is full or the
// worker is stopped the batch is dropped and false is returned.
func (w *Worker) Submit(task BatchTask) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		fiberlog.Warnf("[%s] Worker stopped, cannot submit batch processing task", task.RequestID)
		return false
	}

	select {
	case w.tasks <- task:
		return true
	default:
		fiberlog.Warnf("[%s] Batch processing buffer full, dropping task", task.RequestID)
		return false
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for task := range w.tasks {
		w.process(task)
	}
}

func (w *Worker) process(task BatchTask) {
	defer func() {
		if r := recover(); r != nil {
			fiberlog.Errorf("[%s] Batch processing panicked: %v", task.RequestID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.processor.ProcessEvents(ctx, task.OrgID, task.Records); err != nil {
		fiberlog.Errorf("[%s] Event processing failed: %v", task.RequestID, err)
	}
}

// Stop refuses new tasks, then waits for queued ones to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.tasks)
	w.mu.Unlock()

	w.wg.Wait()
}
