// Package notifications is a small persisted inbox. This package only
// exposes the read/acknowledge surface a client uses; no client method
// creates entries, and no other part of the gateway writes them either
// (the reaper publishes terminal exits to the broadcast hub only), so
// the inbox lists whatever records were put in the store directly.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Service is the connection-scoped handler exposing notifications.*
// methods.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service { return &Service{store: st} }

func (s *Service) Namespace() string { return "notifications" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }
func (s *Service) Shutdown()                            {}

type listParams struct {
	UnreadOnly bool `json:"unread_only,omitempty"`
}

type markReadParams struct {
	NotificationID string `json:"notification_id"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "notifications.list":
		var p listParams
		if err := wire.DecodeParams(params, &p); err != nil {
			return wire.ErrorResponse(id, wire.InvalidParams("invalid params: "+err.Error()))
		}
		list, err := s.store.ListNotifications(p.UnreadOnly)
		if err != nil {
			return wire.ErrorResponse(id, wire.InternalError(err.Error()))
		}
		resp, _ := wire.SuccessResponse(id, map[string]any{"notifications": list})
		return resp

	case "notifications.mark_read":
		var p markReadParams
		if err := wire.DecodeParams(params, &p); err != nil || p.NotificationID == "" {
			return wire.ErrorResponse(id, wire.InvalidParams("missing notification_id"))
		}
		if err := s.store.MarkNotificationRead(p.NotificationID, time.Now().Unix()); err != nil {
			return wire.ErrorResponse(id, wire.InvalidParams("unknown notification_id"))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}
