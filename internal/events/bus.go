package events

import "sync"

// Event is a typed status notification destined for the renderer.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types published by the subsystem.
const (
	TypeTorStatus          = "torStatus"
	TypeAdblockUpdated     = "adblockUpdated"
	TypePermissionsUpdated = "permissionsUpdated"
)

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(eventType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- Event{Type: eventType, Payload: payload}:
		default:
		}
	}
}
