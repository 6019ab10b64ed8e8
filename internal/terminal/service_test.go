package terminal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

func newTestService(t *testing.T) (*Service, chan wire.OutboundFrame) {
	t.Helper()
	r, st := newTestRegistry(t)
	outbound := make(chan wire.OutboundFrame, 64)
	subID := uuid.New()
	return NewService(subID, r, st, outbound), outbound
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return b
}

func waitForFrame(t *testing.T, outbound <-chan wire.OutboundFrame, substr string, timeout time.Duration) []byte {
	t.Helper()
	var collected []byte
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-outbound:
			if !frame.Binary {
				t.Fatalf("expected binary outbound frame, got text: %q", frame.Data)
			}
			collected = append(collected, frame.Data...)
			if containsBytes(collected, substr) {
				return collected
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output containing %q, got %q", substr, collected)
		}
	}
}

func TestServiceSessionStartAndInput(t *testing.T) {
	svc, outbound := newTestService(t)
	ctx := context.Background()

	startResp := svc.HandleRequest(ctx, uuid.New(), "terminal.session.start", mustParams(t, startParams{Shell: "/bin/sh"}))
	if startResp.Err != nil {
		t.Fatalf("start failed: %+v", startResp.Err)
	}
	var result struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := wire.DecodeParams(startResp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	defer svc.registry.Kill(result.SessionID)

	inputResp := svc.HandleRequest(ctx, uuid.New(), "terminal.session.input",
		mustParams(t, inputParams{SessionID: result.SessionID, Data: "echo service-hello\n"}))
	if inputResp.Err != nil {
		t.Fatalf("input failed: %+v", inputResp.Err)
	}

	waitForFrame(t, outbound, "service-hello", 5*time.Second)
}

func TestServiceUnknownMethod(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "terminal.bogus", nil)
	if resp.Err == nil || resp.Err.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Err)
	}
}

func TestServiceAttachUnknownSessionReturnsSessionNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "terminal.session.attach",
		mustParams(t, sessionIDParams{SessionID: uuid.New()}))
	if resp.Err == nil || resp.Err.Code != wire.CodeSessionNotFound {
		t.Fatalf("expected session-not-found, got %+v", resp.Err)
	}
}

func TestServiceAttachMissingSessionIDIsInvalidParams(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "terminal.session.attach", mustParams(t, map[string]any{}))
	if resp.Err == nil || resp.Err.Code != wire.CodeInvalidParams {
		t.Fatalf("expected invalid-params, got %+v", resp.Err)
	}
}

func TestServiceHandleBinaryRoutesStdinToSession(t *testing.T) {
	svc, outbound := newTestService(t)
	ctx := context.Background()

	startResp := svc.HandleRequest(ctx, uuid.New(), "terminal.session.start", mustParams(t, startParams{Shell: "/bin/sh"}))
	var result struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	wire.DecodeParams(startResp.Result, &result)
	defer svc.registry.Kill(result.SessionID)

	svc.HandleBinary(&wire.BinaryFrame{SessionID: result.SessionID, Stream: wire.StreamStdin, Payload: []byte("echo binary-hello\n")})

	waitForFrame(t, outbound, "binary-hello", 5*time.Second)
}

func TestServiceHandleBinaryIgnoresNonStdin(t *testing.T) {
	svc, _ := newTestService(t)
	// No session exists; a stdout-stream frame must be ignored rather
	// than routed to Registry.Input (which would error on an unknown
	// session if it were called).
	svc.HandleBinary(&wire.BinaryFrame{SessionID: uuid.New(), Stream: wire.StreamStdout, Payload: []byte("noop")})
}

func TestServiceRemoveUnknownRecordIsSessionNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "terminal.session.remove",
		mustParams(t, sessionIDParams{SessionID: uuid.New()}))
	if resp.Err == nil || resp.Err.Code != wire.CodeSessionNotFound {
		t.Fatalf("expected session-not-found, got %+v", resp.Err)
	}
}

func TestServiceShutdownDetachesAllSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	startResp := svc.HandleRequest(ctx, uuid.New(), "terminal.session.start", mustParams(t, startParams{Shell: "/bin/sh"}))
	var result struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	wire.DecodeParams(startResp.Result, &result)
	defer svc.registry.Kill(result.SessionID)

	svc.Shutdown()

	svc.mu.Lock()
	n := len(svc.attached)
	svc.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no attached sessions after shutdown, got %d", n)
	}
}

func TestServiceReapReturnsNoEvents(t *testing.T) {
	svc, _ := newTestService(t)
	if events := svc.Reap(); events != nil {
		t.Fatalf("expected nil events, got %+v", events)
	}
}
