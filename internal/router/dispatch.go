package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

// binaryNamespace is the one namespace binary frames are ever routed to.
// The wire format reserves room for a future per-frame service
// discriminator; until one exists, every binary message is terminal I/O.
const binaryNamespace = "terminal"

// Router dispatches requests and binary frames to the per-connection
// handler whose namespace matches. Handlers are shut down in the order
// they were registered, independent of map iteration order.
type Router struct {
	handlers map[string]Handler
	order    []string
}

func New() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register adds a handler under its own Namespace(). Registration order
// is preserved for ShutdownAll.
func (r *Router) Register(h Handler) {
	ns := h.Namespace()
	if _, exists := r.handlers[ns]; !exists {
		r.order = append(r.order, ns)
	}
	r.handlers[ns] = h
}

// RouteRequest dispatches a single request to the handler owning its
// method's leading namespace.
func (r *Router) RouteRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	ns, _, ok := splitMethod(method)
	if !ok {
		return wire.ErrorResponse(id, wire.MethodNotFound("invalid method format"))
	}
	h, found := r.handlers[ns]
	if !found {
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown service: "+ns))
	}
	return h.HandleRequest(ctx, id, method, params)
}

// RouteBinary hands a binary frame to the terminal handler, if registered.
// A missing handler silently drops the frame; callers are expected to log
// at debug level when that happens.
func (r *Router) RouteBinary(frame *wire.BinaryFrame) bool {
	h, ok := r.handlers[binaryNamespace]
	if !ok {
		return false
	}
	h.HandleBinary(frame)
	return true
}

// ReapAll polls every registered handler and concatenates their reap
// events.
func (r *Router) ReapAll() []ReapEvent {
	var all []ReapEvent
	for _, ns := range r.order {
		all = append(all, r.handlers[ns].Reap()...)
	}
	return all
}

// ShutdownAll shuts down every handler in registration order. Safe to
// call more than once since each handler's Shutdown is itself required to
// be idempotent.
func (r *Router) ShutdownAll() {
	for _, ns := range r.order {
		r.handlers[ns].Shutdown()
	}
}

func splitMethod(method string) (namespace, rest string, ok bool) {
	i := strings.IndexByte(method, '.')
	if i <= 0 {
		return "", "", false
	}
	return method[:i], method[i+1:], true
}
