// Package events provides the synchronous, typed event bus the
// orchestrator emits on. Subscribers run inline on the emitting
// goroutine; handlers must be fast and must not block.
package events

import "sync"

// Type enumerates the event variants observers may receive.
type Type string

const (
	CycleStarted    Type = "cycle_started"
	CycleCompleted  Type = "cycle_completed"
	PhaseStarted    Type = "phase_started"
	PhaseCompleted  Type = "phase_completed"
	IssueDetected   Type = "issue_detected"
	Modification    Type = "modification"
	Rollback        Type = "rollback"
	Error           Type = "error"
	TroubleCaptured Type = "trouble_captured"
)

// Event is one emission with its cycle scope and free-form detail.
type Event struct {
	Type    Type
	CycleID string
	Phase   string
	Message string
	Detail  map[string]string
}

// Handler consumes events.
type Handler func(Event)

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit delivers the event to every subscriber in registration order.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
