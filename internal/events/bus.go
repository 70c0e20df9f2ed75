package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// maxHistory bounds the event history ring. Publishing beyond the bound
// evicts the oldest entry.
const maxHistory = 1000

// Callback receives one published event. Callbacks run synchronously on the
// publishing goroutine and must not block for long; anything slow should
// hand off to its own goroutine.
type Callback func(Event)

// Subscription identifies one registered callback. The zero value is valid
// and unsubscribing it is a no-op.
type Subscription struct {
	eventType EventType
	id        uuid.UUID
}

// subscriber pairs a callback with its registration identity. Callbacks are
// not comparable, so the id is what Unsubscribe matches on.
type subscriber struct {
	id uuid.UUID
	fn Callback
}

// Bus is an in-process publish/subscribe hub. Components publish typed
// events; subscribers for the matching type are invoked synchronously in
// registration order. Buses are constructed explicitly and passed by
// reference; there is no package-level default instance.
type Bus struct {
	mu          sync.Mutex
	subscribers map[EventType][]subscriber
	history     []Event
	logger      *slog.Logger
}

// NewBus creates an empty bus logging through the given logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[EventType][]subscriber),
		logger:      logger.With("component", "event_bus"),
	}
}

// Subscribe registers a callback for one event type and returns the handle
// that identifies the registration. Safe to call from any goroutine,
// including from inside a callback running under Publish.
func (b *Bus) Subscribe(eventType EventType, fn Callback) Subscription {
	sub := subscriber{id: uuid.New(), fn: fn}

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	count := len(b.subscribers[eventType])
	b.mu.Unlock()

	b.logger.Debug("subscriber registered",
		"event_type", eventType,
		"subscriber_count", count)

	return Subscription{eventType: eventType, id: sub.id}
}

// Unsubscribe removes a registration. Removing a handle that was never
// registered, or was already removed, is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish constructs an Event, appends it to the history ring, and invokes
// every subscriber currently registered for the type, in registration
// order, before returning. The bus lock is released before any callback
// runs, so callbacks may Subscribe, Unsubscribe, or Publish without
// deadlocking.
//
// A panicking subscriber does not stop delivery to the remaining
// subscribers; the panic is recovered and republished as an error_occurred
// event (unless the failing event was itself error_occurred).
func (b *Bus) Publish(eventType EventType, data map[string]any, source string) Event {
	event := newEvent(eventType, data, source)

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > maxHistory {
		b.history = b.history[1:]
	}
	subs := make([]subscriber, len(b.subscribers[eventType]))
	copy(subs, b.subscribers[eventType])
	b.mu.Unlock()

	for _, sub := range subs {
		b.dispatch(event, sub)
	}

	return event
}

// dispatch invokes one callback with panic recovery.
func (b *Bus) dispatch(event Event, sub subscriber) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r)

			// An error_occurred subscriber that panics is only logged,
			// otherwise the bus would recurse forever.
			if event.Type != ErrorOccurred {
				b.Publish(ErrorOccurred, map[string]any{
					"error":      fmt.Sprintf("subscriber panic: %v", r),
					"event_type": string(event.Type),
				}, "event_bus")
			}
		}
	}()

	sub.fn(event)
}

// History returns a most-recent-first snapshot of published events. A zero
// eventType matches all types; limit <= 0 means no limit.
func (b *Bus) History(eventType EventType, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.history))
	for i := len(b.history) - 1; i >= 0; i-- {
		if eventType != "" && b.history[i].Type != eventType {
			continue
		}
		out = append(out, b.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ClearHistory drops all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// SubscriberCount reports the number of registered callbacks for one type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[eventType])
}

// Reset removes every subscriber and clears the history. Intended for
// shutdown and for tests that reuse a bus.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[EventType][]subscriber)
	b.history = nil
}
