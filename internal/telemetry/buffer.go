package telemetry

import "sync"

// EventBuffer is a fixed ring of the most recent events, kept for replay to
// subscribers that reconnect with a last seen ID.
type EventBuffer struct {
	mu    sync.RWMutex
	ring  []Event
	head  int // index of the oldest event
	count int
}

// NewEventBuffer creates a ring holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{ring: make([]Event, capacity)}
}

// Add stores event, overwriting the oldest once the ring is full.
func (b *EventBuffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.ring) {
		b.ring[(b.head+b.count)%len(b.ring)] = event
		b.count++
		return
	}
	b.ring[b.head] = event
	b.head = (b.head + 1) % len(b.ring)
}

// After returns the buffered events with an ID greater than lastID, oldest
// first.
func (b *EventBuffer) After(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for i := 0; i < b.count; i++ {
		if event := b.ring[(b.head+i)%len(b.ring)]; event.ID > lastID {
			out = append(out, event)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
