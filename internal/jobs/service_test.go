package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestJobsStartAndStatus(t *testing.T) {
	svc := NewService(openTestStore(t))
	ctx := context.Background()

	resp := svc.HandleRequest(ctx, uuid.New(), "jobs.start", marshal(t, startParams{Name: "build"}))
	if resp.Err != nil {
		t.Fatalf("start failed: %+v", resp.Err)
	}
	var started struct {
		Job store.JobRecord `json:"job"`
	}
	if err := wire.DecodeParams(resp.Result, &started); err != nil {
		t.Fatal(err)
	}
	if started.Job.Status != store.JobQueued {
		t.Fatalf("got status %s", started.Job.Status)
	}

	resp = svc.HandleRequest(ctx, uuid.New(), "jobs.status", marshal(t, jobIDParams{JobID: started.Job.JobID}))
	if resp.Err != nil {
		t.Fatalf("status failed: %+v", resp.Err)
	}
}

func TestJobsStatusUnknownIsInvalidParams(t *testing.T) {
	svc := NewService(openTestStore(t))
	resp := svc.HandleRequest(context.Background(), uuid.New(), "jobs.status", marshal(t, jobIDParams{JobID: "ghost"}))
	if resp.Err == nil || resp.Err.Code != wire.CodeInvalidParams {
		t.Fatalf("expected invalid-params, got %+v", resp.Err)
	}
}

func TestJobsCancelMarksCancelled(t *testing.T) {
	svc := NewService(openTestStore(t))
	ctx := context.Background()

	resp := svc.HandleRequest(ctx, uuid.New(), "jobs.start", marshal(t, startParams{Name: "build"}))
	var started struct {
		Job store.JobRecord `json:"job"`
	}
	wire.DecodeParams(resp.Result, &started)

	resp = svc.HandleRequest(ctx, uuid.New(), "jobs.cancel", marshal(t, jobIDParams{JobID: started.Job.JobID}))
	if resp.Err != nil {
		t.Fatalf("cancel failed: %+v", resp.Err)
	}
	var cancelled struct {
		Job store.JobRecord `json:"job"`
	}
	wire.DecodeParams(resp.Result, &cancelled)
	if cancelled.Job.Status != store.JobCancelled {
		t.Fatalf("got status %s", cancelled.Job.Status)
	}
}

func TestJobsLogsTailEmpty(t *testing.T) {
	svc := NewService(openTestStore(t))
	resp := svc.HandleRequest(context.Background(), uuid.New(), "jobs.logs.tail", marshal(t, tailParams{JobID: "j1"}))
	if resp.Err != nil {
		t.Fatalf("tail failed: %+v", resp.Err)
	}
	var result struct {
		Lines      []string `json:"lines"`
		NextOffset int      `json:"next_offset"`
	}
	wire.DecodeParams(resp.Result, &result)
	if len(result.Lines) != 0 || result.NextOffset != 0 {
		t.Fatalf("got %+v", result)
	}
}
