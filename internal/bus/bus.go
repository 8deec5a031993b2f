// Package bus is the in-process event hub behind [analysis.EventBus]. Socket
// handlers subscribe per session; the emitter broadcasts into per-subscriber
// buffered channels. A slow subscriber loses events rather than stalling the
// pipeline.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mkessel/candor/pkg/analysis"
)

// subscriberBuffer is the per-subscriber channel depth. One composite sample
// every 10 s means even a briefly stalled writer rarely fills it.
const subscriberBuffer = 16

// Event is one delivered broadcast.
type Event struct {
	SessionID string
	Event     string
	Payload   any
}

var _ analysis.EventBus = (*Hub)(nil)

// Hub fans broadcasts out to session subscribers. The zero value is not
// usable; construct with [NewHub]. All methods are safe for concurrent use.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[uuid.UUID]chan Event
	closed bool
}

// NewHub constructs an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log,
		subs: make(map[string]map[uuid.UUID]chan Event),
	}
}

// Subscribe registers a new subscriber for a session and returns its id and
// receive channel. The channel is closed on [Hub.Unsubscribe] or [Hub.Close].
func (h *Hub) Subscribe(sessionID string) (uuid.UUID, <-chan Event) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return id, ch
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uuid.UUID]chan Event)
	}
	h.subs[sessionID][id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are a
// no-op.
func (h *Hub) Unsubscribe(sessionID string, id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[sessionID][id]
	if !ok {
		return
	}
	delete(h.subs[sessionID], id)
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
	close(ch)
}

// Subscribers returns the current subscriber count for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Broadcast implements [analysis.EventBus]. Delivery is non-blocking: a
// subscriber whose buffer is full misses this event.
func (h *Hub) Broadcast(_ context.Context, sessionID, event string, payload any) error {
	ev := Event{SessionID: sessionID, Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			h.log.Warn("slow subscriber dropped event",
				slog.String("session_id", sessionID),
				slog.String("event", event),
				slog.String("subscriber", id.String()))
		}
	}
	return nil
}

// Close closes every subscriber channel and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sessionID, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, sessionID)
	}
}
