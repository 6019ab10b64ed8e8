package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Service is the connection-scoped handler exposing terminal.* methods.
// One Service instance exists per connection; the Registry it wraps is
// shared process-wide.
type Service struct {
	subscriberID uuid.UUID
	registry     *Registry
	store        store.Store

	mu       sync.Mutex
	attached map[uuid.UUID]chan<- struct{}    // session id -> drain-stop signal for this connection's fan-out pump
	outbound chan<- wire.OutboundFrame        // the connection's single outbound sink
}

// NewService builds a terminal handler for one connection. outbound is
// the connection loop's outbound queue; binary frames delivered to
// attached sessions are pumped onto it.
func NewService(subscriberID uuid.UUID, registry *Registry, st store.Store, outbound chan<- wire.OutboundFrame) *Service {
	return &Service{
		subscriberID: subscriberID,
		registry:     registry,
		store:        st,
		attached:     make(map[uuid.UUID]chan<- struct{}),
		outbound:     outbound,
	}
}

func (s *Service) Namespace() string { return "terminal" }

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "terminal.session.start":
		return s.start(id, params)
	case "terminal.session.attach":
		return s.attach(id, params)
	case "terminal.session.detach":
		return s.detach(id, params)
	case "terminal.session.resize":
		return s.resize(id, params)
	case "terminal.session.input":
		return s.input(id, params)
	case "terminal.session.kill":
		return s.kill(id, params)
	case "terminal.session.list":
		return s.list(id)
	case "terminal.session.remove":
		return s.remove(id, params)
	case "terminal.tmux.list":
		return s.tmuxList(id)
	case "terminal.tmux.attach":
		return s.tmuxAttach(id, params)
	case "terminal.tmux.kill":
		return s.tmuxKill(id, params)
	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {
	if frame.Stream != wire.StreamStdin {
		logger.Debug("terminal handler ignoring non-stdin binary frame", "stream", frame.Stream)
		return
	}
	if err := s.registry.Input(frame.SessionID, frame.Payload); err != nil {
		logger.Warn("terminal binary input failed", "session_id", frame.SessionID, "err", err)
	}
}

// Reap never produces events of its own; session-exit events are
// produced centrally by the registry's process-wide reaper and fanned
// out to connections by the connection loop, not by this per-connection
// handler.
func (s *Service) Reap() []router.ReapEvent { return nil }

// Shutdown detaches this connection's subscriber id from every session
// it is currently attached to. Sessions themselves are left running.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := make([]uuid.UUID, 0, len(s.attached))
	for id, stop := range s.attached {
		sessions = append(sessions, id)
		close(stop)
	}
	s.attached = make(map[uuid.UUID]chan<- struct{})
	s.mu.Unlock()

	for _, id := range sessions {
		s.registry.Detach(s.subscriberID, id)
	}
}

type startParams struct {
	Shell string `json:"shell,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
}

func (s *Service) start(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p startParams
	if err := wire.DecodeParams(raw, &p); err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("invalid params: "+err.Error()))
	}
	sessionID, err := s.registry.Start(s.subscriberID, p.Shell, p.Cols, p.Rows)
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	_, q, err := s.registry.Attach(s.subscriberID, sessionID)
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	s.pump(sessionID, q)
	resp, _ := wire.SuccessResponse(id, map[string]any{"session_id": sessionID})
	return resp
}

type sessionIDParams struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Service) attach(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p sessionIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	info, q, err := s.registry.Attach(s.subscriberID, p.SessionID)
	if err != nil {
		return notFoundOrInternal(id, err)
	}
	s.pump(p.SessionID, q)
	resp, _ := wire.SuccessResponse(id, info)
	return resp
}

func (s *Service) detach(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p sessionIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	s.stopPump(p.SessionID)
	if err := s.registry.Detach(s.subscriberID, p.SessionID); err != nil {
		return notFoundOrInternal(id, err)
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}

type resizeParams struct {
	SessionID uuid.UUID `json:"session_id"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
}

func (s *Service) resize(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p resizeParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	if err := s.registry.Resize(p.SessionID, p.Cols, p.Rows); err != nil {
		return notFoundOrInternal(id, err)
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}

type inputParams struct {
	SessionID uuid.UUID `json:"session_id"`
	Data      string    `json:"data"`
}

func (s *Service) input(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p inputParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	if err := s.registry.Input(p.SessionID, []byte(p.Data)); err != nil {
		return notFoundOrInternal(id, err)
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}

func (s *Service) kill(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p sessionIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	s.stopPump(p.SessionID)
	if err := s.registry.Kill(p.SessionID); err != nil {
		return notFoundOrInternal(id, err)
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}

func (s *Service) list(id uuid.UUID) *wire.Envelope {
	sessions, err := s.registry.List()
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"sessions": sessions})
	return resp
}

func (s *Service) remove(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p sessionIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.SessionID == uuid.Nil {
		return wire.ErrorResponse(id, wire.InvalidParams("missing session_id"))
	}
	if err := s.store.DeleteTerminal(p.SessionID.String()); err != nil {
		if err == store.ErrNotFound {
			return wire.ErrorResponse(id, wire.SessionNotFound("no such terminal record: "+p.SessionID.String()))
		}
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}

// pump starts a goroutine copying frames from an already-attached
// subscriber queue onto this connection's outbound sink until the
// session is detached/killed or the connection shuts down. If a pump is
// already running for sessionID it is left in place and this call is a
// no-op, since Attach returns the same queue for a repeat attach.
func (s *Service) pump(sessionID uuid.UUID, q <-chan []byte) {
	s.mu.Lock()
	if _, running := s.attached[sessionID]; running {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.attached[sessionID] = stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case frame, ok := <-q:
				if !ok {
					return
				}
				select {
				case s.outbound <- wire.OutboundFrame{Binary: true, Data: frame}:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Service) stopPump(sessionID uuid.UUID) {
	s.mu.Lock()
	stop, ok := s.attached[sessionID]
	if ok {
		delete(s.attached, sessionID)
	}
	s.mu.Unlock()
	if ok {
		close(stop)
	}
}

func notFoundOrInternal(id uuid.UUID, err error) *wire.Envelope {
	if _, ok := err.(*NotFoundError); ok {
		return wire.ErrorResponse(id, wire.SessionNotFound(err.Error()))
	}
	return wire.ErrorResponse(id, wire.InternalError(err.Error()))
}

// --- supplemental tmux convenience methods ---

type tmuxSessionInfo struct {
	Name     string `json:"name"`
	Attached bool   `json:"attached"`
}

func (s *Service) tmuxList(id uuid.UUID) *wire.Envelope {
	out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}:#{session_attached}").Output()
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError("tmux list-sessions failed: "+err.Error()))
	}
	var sessions []tmuxSessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		sessions = append(sessions, tmuxSessionInfo{Name: parts[0], Attached: parts[1] == "1"})
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"sessions": sessions})
	return resp
}

type tmuxAttachParams struct {
	Name string `json:"name"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

func (s *Service) tmuxAttach(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p tmuxAttachParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.Name == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing name"))
	}
	shell := fmt.Sprintf("tmux attach -t %s", shellQuote(p.Name))
	sessionID, err := s.registry.Start(s.subscriberID, "/bin/sh", p.Cols, p.Rows)
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	_, q, err := s.registry.Attach(s.subscriberID, sessionID)
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	s.pump(sessionID, q)
	if err := s.registry.Input(sessionID, []byte(shell+"\n")); err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"session_id": sessionID})
	return resp
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type tmuxKillParams struct {
	Name string `json:"name"`
}

func (s *Service) tmuxKill(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p tmuxKillParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.Name == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing name"))
	}
	if err := exec.Command("tmux", "kill-session", "-t", p.Name).Run(); err != nil {
		return wire.ErrorResponse(id, wire.InternalError("tmux kill-session failed: "+err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
	return resp
}
