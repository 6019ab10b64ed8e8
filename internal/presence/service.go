// Package presence tracks a process-wide registry of nodes that have
// announced themselves, for the local-only deployments this gateway
// targets today and the federation surface its wire format leaves room
// for later.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// defaultOnlineTimeout is how long since a node's last heartbeat before
// it is reported offline in presence.list.
const defaultOnlineTimeout = 30 * time.Second

// NodeSnapshot is the client-facing description of one registered node.
type NodeSnapshot struct {
	NodeID   string `json:"node_id"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Services []string `json:"services,omitempty"`
	LastSeen int64  `json:"last_seen"`
	Online   bool   `json:"online"`
}

type node struct {
	name     string
	version  string
	services []string
	lastSeen time.Time
}

// Registry is the process-wide node table, shared across every
// connection's Service instance.
type Registry struct {
	mu            sync.Mutex
	nodes         map[string]*node
	onlineTimeout time.Duration
}

// NewRegistry creates an empty presence registry.
func NewRegistry(onlineTimeout time.Duration) *Registry {
	if onlineTimeout <= 0 {
		onlineTimeout = defaultOnlineTimeout
	}
	return &Registry{nodes: make(map[string]*node), onlineTimeout: onlineTimeout}
}

func (r *Registry) register(nodeID, name, version string, services []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = &node{name: name, version: version, services: services, lastSeen: time.Now()}
}

func (r *Registry) heartbeat(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	n.lastSeen = time.Now()
	return true
}

func (r *Registry) list() []NodeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	snaps := make([]NodeSnapshot, 0, len(r.nodes))
	for id, n := range r.nodes {
		snaps = append(snaps, NodeSnapshot{
			NodeID:   id,
			Name:     n.name,
			Version:  n.version,
			Services: n.services,
			LastSeen: n.lastSeen.Unix(),
			Online:   now.Sub(n.lastSeen) < r.onlineTimeout,
		})
	}
	return snaps
}

// Service is the connection-scoped handler exposing presence.* methods.
type Service struct {
	registry *Registry
}

func NewService(registry *Registry) *Service { return &Service{registry: registry} }

func (s *Service) Namespace() string { return "presence" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }
func (s *Service) Shutdown()                            {}

type registerParams struct {
	NodeID   string   `json:"node_id"`
	Name     string   `json:"name,omitempty"`
	Version  string   `json:"version,omitempty"`
	Services []string `json:"services,omitempty"`
}

type nodeIDParams struct {
	NodeID string `json:"node_id"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "presence.register":
		var p registerParams
		if err := wire.DecodeParams(params, &p); err != nil || p.NodeID == "" {
			return wire.ErrorResponse(id, wire.InvalidParams("missing node_id"))
		}
		s.registry.register(p.NodeID, p.Name, p.Version, p.Services)
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "presence.heartbeat":
		var p nodeIDParams
		if err := wire.DecodeParams(params, &p); err != nil || p.NodeID == "" {
			return wire.ErrorResponse(id, wire.InvalidParams("missing node_id"))
		}
		if !s.registry.heartbeat(p.NodeID) {
			return wire.ErrorResponse(id, wire.SessionNotFound("node never registered: "+p.NodeID))
		}
		resp, _ := wire.SuccessResponse(id, map[string]bool{"ok": true})
		return resp

	case "presence.list":
		resp, _ := wire.SuccessResponse(id, map[string]any{"nodes": s.registry.list()})
		return resp

	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}
