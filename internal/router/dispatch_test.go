package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

type fakeHandler struct {
	ns          string
	shutdownN   int
	lastBinary  *wire.BinaryFrame
	reapResults []ReapEvent
	order       *[]string
}

func (f *fakeHandler) Namespace() string { return f.ns }

func (f *fakeHandler) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	if method == f.ns+".boom" {
		return wire.ErrorResponse(id, wire.InvalidParams("boom"))
	}
	resp, _ := wire.SuccessResponse(id, map[string]any{"method": method})
	return resp
}

func (f *fakeHandler) HandleBinary(frame *wire.BinaryFrame) { f.lastBinary = frame }
func (f *fakeHandler) Reap() []ReapEvent                    { return f.reapResults }
func (f *fakeHandler) Shutdown() {
	f.shutdownN++
	if f.order != nil {
		*f.order = append(*f.order, f.ns)
	}
}

func TestRouteRequestDispatchesByNamespace(t *testing.T) {
	r := New()
	h := &fakeHandler{ns: "jobs"}
	r.Register(h)

	id := uuid.New()
	resp := r.RouteRequest(context.Background(), id, "jobs.status", nil)
	if resp.Err != nil {
		t.Fatalf("unexpected error: %+v", resp.Err)
	}
	if resp.ID != id {
		t.Errorf("response id mismatch")
	}
}

func TestRouteRequestUnknownService(t *testing.T) {
	r := New()
	resp := r.RouteRequest(context.Background(), uuid.New(), "foo.bar", nil)
	if resp.Err == nil || resp.Err.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp.Err)
	}
	if resp.Err.Message != "unknown service: foo" {
		t.Errorf("got message %q", resp.Err.Message)
	}
}

func TestRouteRequestInvalidMethodFormat(t *testing.T) {
	r := New()
	resp := r.RouteRequest(context.Background(), uuid.New(), "noNamespace", nil)
	if resp.Err == nil || resp.Err.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resp.Err)
	}
}

func TestRouteBinaryGoesToTerminal(t *testing.T) {
	r := New()
	term := &fakeHandler{ns: "terminal"}
	r.Register(term)
	frame := &wire.BinaryFrame{SessionID: uuid.New(), Stream: wire.StreamStdin, Payload: []byte("x")}
	if !r.RouteBinary(frame) {
		t.Fatal("expected binary to be routed")
	}
	if term.lastBinary != frame {
		t.Error("terminal handler did not receive the frame")
	}
}

func TestRouteBinaryDroppedWithoutTerminalHandler(t *testing.T) {
	r := New()
	frame := &wire.BinaryFrame{SessionID: uuid.New(), Stream: wire.StreamStdin}
	if r.RouteBinary(frame) {
		t.Fatal("expected no handler to accept the frame")
	}
}

func TestReapAllConcatenatesInRegistrationOrder(t *testing.T) {
	r := New()
	a := &fakeHandler{ns: "a", reapResults: []ReapEvent{{Topic: "a.1"}}}
	b := &fakeHandler{ns: "b", reapResults: []ReapEvent{{Topic: "b.1"}, {Topic: "b.2"}}}
	r.Register(a)
	r.Register(b)
	events := r.ReapAll()
	if len(events) != 3 || events[0].Topic != "a.1" || events[2].Topic != "b.2" {
		t.Fatalf("unexpected reap order: %+v", events)
	}
}

func TestShutdownAllIsOrderedAndIdempotent(t *testing.T) {
	r := New()
	var order []string
	a := &fakeHandler{ns: "a", order: &order}
	b := &fakeHandler{ns: "b", order: &order}
	r.Register(a)
	r.Register(b)
	r.ShutdownAll()
	r.ShutdownAll()
	if a.shutdownN != 2 || b.shutdownN != 2 {
		t.Fatalf("expected both handlers shut down twice, got a=%d b=%d", a.shutdownN, b.shutdownN)
	}
	if len(order) != 4 || order[0] != "a" || order[1] != "b" || order[2] != "a" || order[3] != "b" {
		t.Fatalf("expected shutdown in registration order twice, got %v", order)
	}
}
