package session

import (
	"sync"
	"time"
)

// StatusEvent is a lifecycle notification for one session.
type StatusEvent struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Message   *string   `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans status events out to per-session subscribers. Slow subscribers
// drop events instead of blocking the orchestrator.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan StatusEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan StatusEvent]struct{})}
}

// Subscribe registers interest in one session's events. The returned channel
// is buffered; callers must eventually Unsubscribe it.
func (h *Hub) Subscribe(sessionID string) chan StatusEvent {
	ch := make(chan StatusEvent, 8)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan StatusEvent]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(sessionID string, ch chan StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sessionID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// Publish delivers an event to all subscribers of its session.
func (h *Hub) Publish(ev StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; drop rather than stall processing.
		}
	}
}
