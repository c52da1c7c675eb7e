package pipeline

import (
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type EventType string

const (
	EventQueued   EventType = "queued"
	EventSent     EventType = "sent"
	EventFailed   EventType = "failed"
	EventError    EventType = "error"
	EventShutdown EventType = "shutdown"
)

// LifecycleEvent describes one pipeline transition.
type LifecycleEvent struct {
	Type    EventType
	At      time.Time
	Count   int
	Payload *models.TelemetryPayload
	Err     error
}

// Observer receives lifecycle events synchronously on the goroutine that
// produced them. Implementations must not block.
type Observer interface {
	OnEvent(LifecycleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(LifecycleEvent)

func (f ObserverFunc) OnEvent(e LifecycleEvent) { f(e) }

func (p *Pipeline) emit(e LifecycleEvent) {
	e.At = p.now()

	for _, o := range p.observers {
		notify(o, e)
	}

	select {
	case p.events <- e:
	default:
		// subscriber is lagging; drop
	}
}

func notify(o Observer, e LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			fiberlog.Errorf("[tokentra] observer panicked on %s: %v", e.Type, r)
		}
	}()
	o.OnEvent(e)
}
