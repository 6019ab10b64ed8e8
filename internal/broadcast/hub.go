// Package broadcast fans process-wide events — currently just terminal
// session exits discovered by the shared reaper — out to every live
// connection. Each connection's loop registers its own channel and
// filters what it receives through its own subscription manager before
// it ever reaches the socket.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// subscriberCap bounds how many unread broadcast events a single slow
// connection may accumulate before further events are dropped for it.
const subscriberCap = 64

// Hub is safe for concurrent use by multiple goroutines.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan *wire.Envelope
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]chan *wire.Envelope)}
}

// Register allocates a fresh buffered channel for one connection. The
// connection loop selects on it for the lifetime of the connection and
// calls Unregister on teardown.
func (h *Hub) Register() (uuid.UUID, <-chan *wire.Envelope) {
	id := uuid.New()
	ch := make(chan *wire.Envelope, subscriberCap)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish fans env out to every registered connection. Delivery is
// non-blocking and lossy per-subscriber, matching the outbound-queue
// backpressure policy used everywhere else in the gateway.
func (h *Hub) Publish(env *wire.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- env:
		default:
			logger.Warn("broadcast subscriber queue full, dropping event", "subscriber_id", id, "topic", env.Topic)
		}
	}
}
