package router

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

// ReapEvent is produced by a handler's Reap call when background state
// changed in a way other connections may be subscribed to (e.g. a PTY
// child exited).
type ReapEvent struct {
	Topic  string
	Params any
}

// Handler is the uniform surface every namespaced service implements.
// Instances are created fresh per connection; a Handler must not be
// shared across connections.
type Handler interface {
	// Namespace is the leading dotted segment this handler answers for,
	// e.g. "terminal".
	Namespace() string

	// HandleRequest answers one request. It must not block longer than
	// the operation it performs; long-running work should be started
	// elsewhere and polled/streamed back via events.
	HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope

	// HandleBinary delivers a binary frame already routed to this
	// handler's namespace (currently, this is always "terminal").
	HandleBinary(frame *wire.BinaryFrame)

	// Reap is called on the connection loop's periodic reaper tick. It
	// must not block and returns events to fan out through the
	// connection's subscription manager.
	Reap() []ReapEvent

	// Shutdown releases every connection-scoped resource this handler
	// holds. It must be safe to call more than once.
	Shutdown()
}
