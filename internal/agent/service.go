package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Service is the connection-scoped handler exposing agent.* methods. It
// mirrors terminal.Service: a thin per-connection face over a
// process-wide Registry, pumping each attached chat's fan-out queue into
// the connection's outbound sink.
type Service struct {
	subscriberID uuid.UUID
	registry     *Registry
	outbound     chan<- wire.OutboundFrame

	mu       sync.Mutex
	attached map[uuid.UUID]chan<- struct{}
}

func NewService(subscriberID uuid.UUID, registry *Registry, outbound chan<- wire.OutboundFrame) *Service {
	return &Service{
		subscriberID: subscriberID,
		registry:     registry,
		outbound:     outbound,
		attached:     make(map[uuid.UUID]chan<- struct{}),
	}
}

func (s *Service) Namespace() string { return "agent" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }

func (s *Service) Shutdown() {
	s.mu.Lock()
	for chatID, stop := range s.attached {
		close(stop)
		s.registry.Detach(s.subscriberID, chatID)
	}
	s.attached = make(map[uuid.UUID]chan<- struct{})
	s.mu.Unlock()
	s.registry.DetachAll(s.subscriberID)
}

type startParams struct {
	ThreadID string `json:"thread_id,omitempty"`
}

type chatIDParams struct {
	ChatID uuid.UUID `json:"chat_id"`
}

type sendParams struct {
	ChatID  uuid.UUID       `json:"chat_id"`
	Message json.RawMessage `json:"message"`
}

type approveParams struct {
	ChatID    uuid.UUID       `json:"chat_id"`
	RequestID uint64          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "agent.start":
		var p startParams
		if err := wire.DecodeParams(params, &p); err != nil {
			return wire.ErrorResponse(id, wire.InvalidParams("invalid params: "+err.Error()))
		}
		chatID, err := s.registry.Start(s.subscriberID, p.ThreadID)
		if err != nil {
			return wire.ErrorResponse(id, wire.InternalError(err.Error()))
		}
		q, err := s.registry.Attach(s.subscriberID, chatID)
		if err == nil {
			s.pump(chatID, q)
		}
		resp, _ := wire.SuccessResponse(id, map[string]any{"chat_id": chatID})
		return resp

	case "agent.attach":
		var p chatIDParams
		if err := wire.DecodeParams(params, &p); err != nil || p.ChatID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing chat_id"))
		}
		q, err := s.registry.Attach(s.subscriberID, p.ChatID)
		if err != nil {
			return wire.ErrorResponse(id, notFoundOrInternal(id, err))
		}
		s.pump(p.ChatID, q)
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "agent.detach":
		var p chatIDParams
		if err := wire.DecodeParams(params, &p); err != nil || p.ChatID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing chat_id"))
		}
		s.stopPump(p.ChatID)
		if err := s.registry.Detach(s.subscriberID, p.ChatID); err != nil {
			return wire.ErrorResponse(id, wire.SessionNotFound(err.Error()))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "agent.send":
		var p sendParams
		if err := wire.DecodeParams(params, &p); err != nil || p.ChatID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing chat_id"))
		}
		if err := s.registry.Send(p.ChatID, p.Message); err != nil {
			return wire.ErrorResponse(id, notFoundOrInternal(id, err))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "agent.approve":
		var p approveParams
		if err := wire.DecodeParams(params, &p); err != nil || p.ChatID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing chat_id"))
		}
		if err := s.registry.Approve(p.ChatID, p.RequestID, p.Result); err != nil {
			return wire.ErrorResponse(id, notFoundOrInternal(id, err))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "agent.stop":
		var p chatIDParams
		if err := wire.DecodeParams(params, &p); err != nil || p.ChatID == uuid.Nil {
			return wire.ErrorResponse(id, wire.InvalidParams("missing chat_id"))
		}
		s.stopPump(p.ChatID)
		if err := s.registry.Stop(p.ChatID); err != nil {
			return wire.ErrorResponse(id, wire.SessionNotFound(err.Error()))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "agent.list":
		list, err := s.registry.List()
		if err != nil {
			return wire.ErrorResponse(id, wire.InternalError(err.Error()))
		}
		resp, _ := wire.SuccessResponse(id, map[string]any{"chats": list})
		return resp

	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}

func notFoundOrInternal(id uuid.UUID, err error) *wire.RPCError {
	if _, ok := err.(*NotFoundError); ok {
		return wire.SessionNotFound(err.Error())
	}
	return wire.InternalError(err.Error())
}

// pump copies frames from an attached chat's fan-out queue into the
// connection's outbound sink until stopped, mirroring terminal.Service's
// pump for PTY output.
func (s *Service) pump(chatID uuid.UUID, q <-chan []byte) {
	s.mu.Lock()
	if _, exists := s.attached[chatID]; exists {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.attached[chatID] = stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case frame, ok := <-q:
				if !ok {
					return
				}
				select {
				case s.outbound <- wire.OutboundFrame{Binary: false, Data: frame}:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Service) stopPump(chatID uuid.UUID) {
	s.mu.Lock()
	stop, ok := s.attached[chatID]
	if ok {
		delete(s.attached, chatID)
	}
	s.mu.Unlock()
	if ok {
		close(stop)
	}
}
