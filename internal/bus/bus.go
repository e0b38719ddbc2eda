// Package bus implements the bridge's in-process event bus. Webhook
// deliveries and dispatch results are published as named events;
// subscribers (the SSE stream, tests, future adapters) receive them on
// buffered channels. Publication never blocks: a subscriber that falls
// behind loses events rather than stalling the publisher.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known event names. Automations key off these, so the exact
// strings are part of the bridge's contract.
const (
	EventMessageReceived = "homechat_message_received"
	EventBotMessage      = "homechat_bot_message"
	EventChannelsUpdated = "homechat_channels_updated"
	EventSearchResults   = "homechat_search_results"
)

// Event is a named, structured message for automation consumption.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

const defaultBuffer = 64

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	names map[string]bool // nil means all events
	ch    chan Event
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger.With("component", "bus"),
		subs:   make(map[int]*subscription),
	}
}

// Subscribe registers a subscriber for the given event names. An empty
// names list subscribes to every event. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(names ...string) (<-chan Event, func()) {
	var filter map[string]bool
	if len(names) > 0 {
		filter = make(map[string]bool, len(names))
		for _, name := range names {
			filter[name] = true
		}
	}

	sub := &subscription{names: filter, ch: make(chan Event, defaultBuffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish fires a named event to all matching subscribers. Slow
// subscribers are skipped, never waited on.
func (b *Bus) Publish(name string, data map[string]any) Event {
	event := Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.names != nil && !sub.names[name] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, dropping event", "event", name)
		}
	}
	return event
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
