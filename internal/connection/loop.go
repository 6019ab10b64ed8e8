package connection

import (
	"context"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/homiegw/internal/broadcast"
	"github.com/ehrlich-b/homiegw/internal/identity"
	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Default tunables for C12's seven-way select. A bootstrap may override
// any of these per listener via LoopConfig.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultReaperInterval    = 2 * time.Second
)

// pingable is everything the connection loop needs from a live socket
// beyond what the handshake needs: a way to drive the heartbeat tick.
type pingable interface {
	socket
	Ping(ctx context.Context) error
}

// LoopConfig bundles one connection's tunables and the role its identity
// was mapped to, which gates every inbound request.
type LoopConfig struct {
	Role              identity.Role
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	ReaperInterval    time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = DefaultReaperInterval
	}
	return c
}

type inboundFrame struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Run drives C12 to completion: it owns sock for its entire lifetime,
// always registers with hub and always tears down rtr and hub on the way
// out, regardless of which select source ended the loop.
func Run(ctx context.Context, sock pingable, rtr *router.Router, subs *router.Manager, outbound <-chan wire.OutboundFrame, hub *broadcast.Hub, cfg LoopConfig) {
	cfg = cfg.withDefaults()

	broadcastID, broadcastCh := hub.Register()
	defer hub.Unregister(broadcastID)
	defer rtr.ShutdownAll()

	// Buffered by one so readLoop's final send (its own read error, once
	// cancelReader fires on the way out) never blocks on a main loop that
	// has already returned.
	inbound := make(chan inboundFrame, 1)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	go readLoop(readerCtx, sock, inbound)

	heartbeat := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	reaper := time.NewTicker(cfg.ReaperInterval)
	defer reaper.Stop()
	idle := time.NewTimer(cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case frame, ok := <-inbound:
			if !ok {
				return
			}
			if frame.err != nil {
				logger.Debug("connection read ended", "error", frame.err)
				return
			}
			resetTimer(idle, cfg.IdleTimeout)
			if !handleInbound(ctx, sock, rtr, cfg.Role, frame) {
				return
			}

		case frame, ok := <-outbound:
			if !ok {
				outbound = nil
				continue
			}
			typ := websocket.MessageText
			if frame.Binary {
				typ = websocket.MessageBinary
			}
			if err := sock.Write(ctx, typ, frame.Data); err != nil {
				logger.Debug("connection write failed", "error", err)
				return
			}

		case <-heartbeat.C:
			if err := sock.Ping(ctx); err != nil {
				logger.Debug("heartbeat ping failed", "error", err)
				return
			}

		case <-idle.C:
			logger.Debug("connection idle timeout")
			sock.Close(websocket.StatusCode(wire.CloseIdleTimeout), "idle timeout")
			return

		case <-reaper.C:
			for _, ev := range rtr.ReapAll() {
				if !subs.Matches(ev.Topic) {
					continue
				}
				writeEvent(ctx, sock, ev.Topic, ev.Params)
			}

		case env, ok := <-broadcastCh:
			if !ok {
				broadcastCh = nil
				continue
			}
			if !subs.Matches(env.Topic) {
				continue
			}
			if data, err := env.Encode(); err == nil {
				sock.Write(ctx, websocket.MessageText, data)
			}

		case <-ctx.Done():
			return
		}
	}
}

func readLoop(ctx context.Context, sock pingable, out chan<- inboundFrame) {
	for {
		typ, data, err := sock.Read(ctx)
		out <- inboundFrame{typ: typ, data: data, err: err}
		if err != nil {
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handleInbound dispatches one inbound frame and reports whether the
// loop should continue. Decode failures and unauthorized requests are
// logged/answered without ending the connection; only a transport-level
// write failure ends it.
func handleInbound(ctx context.Context, sock pingable, rtr *router.Router, role identity.Role, frame inboundFrame) bool {
	switch frame.typ {
	case websocket.MessageBinary:
		bf, err := wire.DecodeFrame(frame.data)
		if err != nil {
			logger.Warn("malformed binary frame", "error", err)
			return true
		}
		if !rtr.RouteBinary(bf) {
			logger.Debug("dropping binary frame: no terminal handler", "session_id", bf.SessionID)
		}
		return true

	case websocket.MessageText:
		env, err := wire.Decode(frame.data)
		if err != nil {
			logger.Warn("malformed text frame", "error", err)
			return true
		}
		if env.Type != wire.TypeRequest {
			logger.Debug("ignoring non-request frame from client", "type", env.Type)
			return true
		}
		if !authorized(role, env.Method) {
			resp := wire.ErrorResponse(env.ID, wire.Unauthorized("insufficient role for "+env.Method))
			return writeEnvelope(ctx, sock, resp)
		}
		resp := rtr.RouteRequest(ctx, env.ID, env.Method, env.Params)
		return writeEnvelope(ctx, sock, resp)

	default:
		return true
	}
}

func writeEnvelope(ctx context.Context, sock pingable, env *wire.Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		logger.Warn("encode response failed", "error", err)
		return true
	}
	if err := sock.Write(ctx, websocket.MessageText, data); err != nil {
		logger.Debug("connection write failed", "error", err)
		return false
	}
	return true
}

func writeEvent(ctx context.Context, sock pingable, topic string, params any) {
	env, err := wire.NewEvent(topic, params)
	if err != nil {
		logger.Warn("encode reap event failed", "topic", topic, "error", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		logger.Warn("encode reap event failed", "topic", topic, "error", err)
		return
	}
	sock.Write(ctx, websocket.MessageText, data)
}
