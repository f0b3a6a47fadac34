package events

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; SSE consumers drain fast so
// this only triggers on stuck connections.
const subscriberBuffer = 256

// Bus is an in-process publish/subscribe fanout keyed by channel name.
// Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a subscriber on a channel. The returned cancel
// function unsubscribes and closes the event channel; it is idempotent.
func (b *Bus) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Event]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers of a channel.
// Delivery is non-blocking; events to a full subscriber are dropped.
func (b *Bus) Publish(channel string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"channel", channel, "event_type", event.Type)
		}
	}
}
