package broadcast

import (
	"sync"

	"lookout/internal/event"
)

// DefaultRecentSize bounds the replay buffer handed to newly connected
// dashboard clients.
const DefaultRecentSize = 100

// RecentBuffer keeps the last N delivered events for replay on connect.
type RecentBuffer struct {
	mu    sync.Mutex
	max   int
	items []*event.Event
}

// NewRecentBuffer creates a buffer holding at most max events.
// Non-positive max falls back to the default.
func NewRecentBuffer(max int) *RecentBuffer {
	if max <= 0 {
		max = DefaultRecentSize
	}
	return &RecentBuffer{max: max}
}

// Add appends an event, evicting the oldest when full.
func (b *RecentBuffer) Add(e *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, e)
	if len(b.items) > b.max {
		b.items = b.items[len(b.items)-b.max:]
	}
}

// Snapshot returns the buffered events newest first.
func (b *RecentBuffer) Snapshot() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*event.Event, len(b.items))
	for i, e := range b.items {
		out[len(b.items)-1-i] = e
	}
	return out
}

// Len returns the number of buffered events.
func (b *RecentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
