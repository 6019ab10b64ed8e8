// Package gateway assembles C13: it owns the process-wide store and
// registries, runs the background reaper and pruning goroutines, and
// turns each accepted upgrade into a fresh per-connection handler set
// handed off to the connection loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/homiegw/internal/agent"
	"github.com/ehrlich-b/homiegw/internal/broadcast"
	"github.com/ehrlich-b/homiegw/internal/config"
	"github.com/ehrlich-b/homiegw/internal/connection"
	"github.com/ehrlich-b/homiegw/internal/events"
	"github.com/ehrlich-b/homiegw/internal/identity"
	"github.com/ehrlich-b/homiegw/internal/jobs"
	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/notifications"
	"github.com/ehrlich-b/homiegw/internal/pairing"
	"github.com/ehrlich-b/homiegw/internal/presence"
	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/terminal"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

const reapInterval = 2 * time.Second
const pruneInterval = time.Minute

// Server is the process-wide gateway: one Store, one TerminalRegistry,
// one agent Registry, one presence Registry, and one broadcast Hub
// shared by every connection it accepts.
type Server struct {
	cfg       config.GatewayConfig
	store     store.Store
	terminals *terminal.Registry
	agents    *agent.Registry
	presence  *presence.Registry
	hub       *broadcast.Hub
	verify    identity.VerifyFunc
	roles     identity.RoleMapping
	serverID  string

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server from an already-open Store. verify may be nil, in
// which case every non-loopback, non-LAN connection is rejected.
func New(cfg config.GatewayConfig, st store.Store, verify identity.VerifyFunc) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		terminals: terminal.NewRegistry(st, cfg.HistoryBytes),
		agents:    agent.NewRegistry(st, cfg.AgentCommand, cfg.AgentArgs),
		presence:  presence.NewRegistry(30 * time.Second),
		hub:       broadcast.NewHub(),
		verify:    verify,
		roles:     identity.DefaultRoleMapping(),
		serverID:  uuid.New().String(),
	}
}

// Run reconciles persisted state, opens the listener, and blocks serving
// until ctx is canceled or the listener fails. It always returns nil on
// a clean shutdown triggered by ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	if err := s.store.MarkAllInactive(); err != nil {
		return fmt.Errorf("mark inactive: %w", err)
	}
	s.pruneOnce()

	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.BindAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	httpServer := &http.Server{Handler: s.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.runReaper(gctx)
		return nil
	})
	g.Go(func() error {
		s.runPruner(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Close()
	})

	logger.Info("gateway listening", "addr", s.cfg.BindAddr, "server_id", s.serverID)
	return g.Wait()
}

// Close stops accepting new connections. It does not tear down
// already-established connection loops, which own their own teardown.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Handler builds the HTTP mux Run serves, exported so tests can wrap it
// in an httptest.Server without going through a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Server-ID", s.serverID)
	w.Write([]byte("ok"))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := identity.Classify(r, s.verify)
	if id.Kind == identity.KindRejected {
		http.Error(w, "unauthorized: "+id.Reason, http.StatusUnauthorized)
		return
	}
	role := s.roles.Role(id)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()
	subscriberID := uuid.New()
	outbound := make(chan wire.OutboundFrame, 256)
	rtr := router.New()
	subs := router.NewManager()

	rtr.Register(terminal.NewService(subscriberID, s.terminals, s.store, outbound))
	rtr.Register(agent.NewService(subscriberID, s.agents, outbound))
	rtr.Register(events.NewService(subs))
	caps := []connection.ServiceCapability{
		{Service: "terminal", Version: "1.0"},
		{Service: "agent", Version: "1.0"},
		{Service: "events", Version: "1.0"},
	}

	if s.cfg.EnablePresence {
		rtr.Register(presence.NewService(s.presence))
		caps = append(caps, connection.ServiceCapability{Service: "presence", Version: "1.0"})
	}
	if s.cfg.EnableJobs {
		rtr.Register(jobs.NewService(s.store))
		caps = append(caps, connection.ServiceCapability{Service: "jobs", Version: "0.1"})
	}
	if s.cfg.EnablePairing {
		rtr.Register(pairing.NewService(s.store))
		caps = append(caps, connection.ServiceCapability{Service: "pairing", Version: "0.1"})
	}
	if s.cfg.EnableNotifications {
		rtr.Register(notifications.NewService(s.store))
		caps = append(caps, connection.ServiceCapability{Service: "notifications", Version: "0.1"})
	}

	if _, err := connection.Handshake(ctx, conn, s.serverID, id, caps); err != nil {
		logger.Debug("handshake failed", "error", err, "remote", r.RemoteAddr)
		rtr.ShutdownAll()
		conn.CloseNow()
		return
	}

	logger.Info("connection established", "subscriber_id", subscriberID, "identity_kind", id.Kind, "role", role)
	connection.Run(ctx, conn, rtr, subs, outbound, s.hub, connection.LoopConfig{
		Role:              role,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		IdleTimeout:       s.cfg.IdleTimeout,
	})
	conn.CloseNow()
}

// runReaper polls the shared terminal registry on a fixed tick and fans
// each exited session out through the broadcast hub, so a connection
// other than the one that started the session still learns it ended.
func (s *Server) runReaper(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rs := range s.terminals.Reap() {
				env, err := wire.NewEvent("terminal.session.exit", map[string]any{
					"session_id": rs.SessionID,
					"exit_code":  rs.ExitCode,
				})
				if err != nil {
					continue
				}
				s.hub.Publish(env)
			}
		}
	}
}

func (s *Server) runPruner(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce()
		}
	}
}

func (s *Server) pruneOnce() {
	now := time.Now()
	if err := s.store.PruneExpiredPairings(now.Unix()); err != nil {
		logger.Warn("prune expired pairings failed", "error", err)
	}
	if err := s.store.PruneOldNotifications(now.Add(-s.cfg.NotificationRetention).Unix()); err != nil {
		logger.Warn("prune old notifications failed", "error", err)
	}
}
