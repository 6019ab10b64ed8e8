// Package events exposes the connection-scoped subscription manager as
// the events.* service: subscribe to a topic pattern, unsubscribe by id.
// Matching itself lives in router.Manager; this package is the thin RPC
// face over it.
package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Service is the connection-scoped handler exposing events.* methods. It
// shares its Manager with the connection loop, which consults it on every
// reap tick to decide which events reach the socket.
type Service struct {
	subs *router.Manager
}

func NewService(subs *router.Manager) *Service {
	return &Service{subs: subs}
}

func (s *Service) Namespace() string { return "events" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }
func (s *Service) Shutdown()                            { s.subs.Clear() }

type subscribeParams struct {
	Pattern string `json:"pattern"`
}

type unsubscribeParams struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "events.subscribe":
		var p subscribeParams
		if err := wire.DecodeParams(params, &p); err != nil || p.Pattern == "" {
			return wire.ErrorResponse(id, wire.InvalidParams("missing pattern"))
		}
		subID := s.subs.Subscribe(p.Pattern)
		resp, _ := wire.SuccessResponse(id, map[string]any{"subscription_id": subID})
		return resp

	case "events.unsubscribe":
		var p unsubscribeParams
		if err := wire.DecodeParams(params, &p); err != nil || p.SubscriptionID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing subscription_id"))
		}
		ok := s.subs.Unsubscribe(p.SubscriptionID)
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": ok})
		return resp

	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}
