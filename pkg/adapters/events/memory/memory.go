package memory

import (
	"context"
	"sync"

	"github.com/eimribar/stageflow/pkg/domain"
	"github.com/eimribar/stageflow/pkg/ports"
)

// EventBus implements ports.EventBus with in-process fan-out. Delivery is
// inline on the publishing goroutine; handler errors are ignored, matching
// the fire-and-forget contract.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]ports.EventHandler
	closed      bool
}

// NewEventBus creates an in-process event bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]ports.EventHandler)}
}

// Publish delivers the event to every subscriber of the topic.
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil
	}
	handlers := make([]ports.EventHandler, len(e.subscribers[topic]))
	copy(handlers, e.subscribers[topic])
	e.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for a topic. The subscription lives until
// the bus is closed.
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers[topic] = append(e.subscribers[topic], handler)
	return nil
}

// Close drops all subscriptions; subsequent publishes are no-ops.
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.subscribers = make(map[string][]ports.EventHandler)
	return nil
}
