package events

import (
	"context"
	"sync"
)

// Hub fans events out to any number of subscribers. Subscribers that fall
// behind have events dropped rather than blocking the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	buf  int
}

// NewHub creates a hub whose subscriber channels buffer up to buf events.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 64
	}
	return &Hub{
		subs: make(map[chan Event]struct{}),
		buf:  buf,
	}
}

// Subscribe registers a new observer. The returned cancel func must be
// called when the observer goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buf)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Emit delivers the event to all current subscribers.
func (h *Hub) Emit(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop
		}
	}
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
