// Package jobs provides the bookkeeping surface for fire-and-forget
// background work started outside of an interactive terminal session.
// It tracks job records and their tail logs; actually running the work
// is outside this surface's scope.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// Service is the connection-scoped handler exposing jobs.* methods. Its
// only state beyond the shared store is the per-connection logs map, so
// unlike terminal it needs no companion process-wide registry.
type Service struct {
	store store.Store

	mu   sync.Mutex
	logs map[string][]string // job_id -> log lines read by jobs.logs.tail; lives as long as the connection, and nothing in this package appends to it
}

func NewService(st store.Store) *Service {
	return &Service{store: st, logs: make(map[string][]string)}
}

func (s *Service) Namespace() string { return "jobs" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }
func (s *Service) Shutdown()                            {}

type startParams struct {
	Name string `json:"name"`
	Spec string `json:"spec,omitempty"`
}

type jobIDParams struct {
	JobID string `json:"job_id"`
}

type tailParams struct {
	JobID  string `json:"job_id"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "jobs.start":
		return s.start(id, params)
	case "jobs.status":
		return s.status(id, params)
	case "jobs.cancel":
		return s.cancel(id, params)
	case "jobs.logs.tail":
		return s.logsTail(id, params)
	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}

func (s *Service) start(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p startParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.Name == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing name"))
	}
	now := time.Now().Unix()
	rec := &store.JobRecord{
		JobID:     uuid.New().String(),
		Name:      p.Name,
		Status:    store.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Spec:      p.Spec,
		Logs:      []string{},
	}
	if err := s.store.UpsertJob(rec); err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"job": rec})
	return resp
}

func (s *Service) status(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p jobIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.JobID == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing job_id"))
	}
	rec, err := s.store.GetJob(p.JobID)
	if err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("unknown job: "+p.JobID))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"job": rec})
	return resp
}

func (s *Service) cancel(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p jobIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.JobID == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing job_id"))
	}
	rec, err := s.store.GetJob(p.JobID)
	if err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("unknown job: "+p.JobID))
	}
	rec.Status = store.JobCancelled
	rec.UpdatedAt = time.Now().Unix()
	if err := s.store.UpsertJob(rec); err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"job": rec})
	return resp
}

func (s *Service) logsTail(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p tailParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.JobID == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing job_id"))
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}

	s.mu.Lock()
	all := s.logs[p.JobID]
	s.mu.Unlock()

	if p.Offset < 0 || p.Offset > len(all) {
		return wire.ErrorResponse(id, wire.InvalidParams(fmt.Sprintf("offset %d out of range", p.Offset)))
	}
	end := p.Offset + p.Limit
	if end > len(all) {
		end = len(all)
	}
	lines := all[p.Offset:end]

	resp, _ := wire.SuccessResponse(id, map[string]any{"lines": lines, "next_offset": end})
	return resp
}
