package messaging

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names a connection lifecycle event.
type EventType string

const (
	// ConnectionDisconnected is published exactly once per peer-initiated
	// transport close.
	ConnectionDisconnected EventType = "CONNECTION_DISCONNECTED"
	// ConnectionReconnected is published exactly once per successful reopen
	// following a disconnect.
	ConnectionReconnected EventType = "CONNECTION_RECONNECT"
)

// Event is a connection lifecycle notification.
type Event struct {
	Type  EventType
	Token string
	At    time.Time
}

// EventBus fans lifecycle events out to subscribers. It is an explicit
// instance constructed once per process and passed by reference to every
// collaborator that publishes or subscribes; there is no ambient global.
//
// Delivery is at-least-once per underlying transport event. Publishing
// never blocks: a subscriber that falls behind its buffer loses the event
// and a warning is logged.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	buffer int
	closed bool
	logger *slog.Logger
}

// EventBusOption configures the EventBus.
type EventBusOption func(*EventBus)

// WithEventBuffer sets the per-subscriber channel buffer.
func WithEventBuffer(n int) EventBusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithEventBusLogger sets the logger.
func WithEventBusLogger(logger *slog.Logger) EventBusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// NewEventBus creates an event bus.
func NewEventBus(options ...EventBusOption) *EventBus {
	b := &EventBus{
		subs:   make(map[EventType][]chan Event),
		buffer: 16,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

// Subscribe registers interest in one event type. Subscribers may register
// at any time during the process lifetime.
func (b *EventBus) Subscribe(t EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[t] = append(b.subs[t], ch)
	return ch
}

// Publish delivers an event to every subscriber of its type.
func (b *EventBus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event",
				"event", string(evt.Type),
				"connection", evt.Token,
			)
		}
	}
}

// Close closes all subscriber channels. The bus lives for the process
// lifetime; Close is for orderly shutdown only.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[EventType][]chan Event)
}
