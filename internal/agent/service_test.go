package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/wire"
)

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestService(t *testing.T) (*Service, uuid.UUID, chan wire.OutboundFrame) {
	t.Helper()
	cmd, args := echoResponderArgs()
	registry := NewRegistry(openTestStore(t), cmd, args)
	subscriber := uuid.New()
	outbound := make(chan wire.OutboundFrame, 64)
	svc := NewService(subscriber, registry, outbound)
	t.Cleanup(func() {
		svc.Shutdown()
		registry.ShutdownAll()
	})
	return svc, subscriber, outbound
}

func TestServiceStartAndSend(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp := svc.HandleRequest(ctx, uuid.New(), "agent.start", marshal(t, startParams{}))
	if resp.Err != nil {
		t.Fatalf("start failed: %+v", resp.Err)
	}
	var started struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	if err := wire.DecodeParams(resp.Result, &started); err != nil {
		t.Fatal(err)
	}

	resp = svc.HandleRequest(ctx, uuid.New(), "agent.send", marshal(t, sendParams{ChatID: started.ChatID, Message: json.RawMessage(`"hi"`)}))
	if resp.Err != nil {
		t.Fatalf("send failed: %+v", resp.Err)
	}
}

func TestServiceUnknownMethod(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "agent.bogus", nil)
	if resp.Err == nil || resp.Err.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Err)
	}
}

func TestServiceAttachUnknownChatIsSessionNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp := svc.HandleRequest(context.Background(), uuid.New(), "agent.attach", marshal(t, chatIDParams{ChatID: uuid.New()}))
	if resp.Err == nil || resp.Err.Code != wire.CodeSessionNotFound {
		t.Fatalf("expected session-not-found, got %+v", resp.Err)
	}
}

func TestServiceStartFansOutToOutbound(t *testing.T) {
	svc, _, outbound := newTestService(t)
	ctx := context.Background()

	resp := svc.HandleRequest(ctx, uuid.New(), "agent.start", marshal(t, startParams{}))
	var started struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	wire.DecodeParams(resp.Result, &started)

	svc.HandleRequest(ctx, uuid.New(), "agent.send", marshal(t, sendParams{ChatID: started.ChatID, Message: json.RawMessage(`"hi"`)}))

	select {
	case <-outbound:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an event on the outbound sink")
	}
}

func TestServiceShutdownDetachesEverything(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp := svc.HandleRequest(ctx, uuid.New(), "agent.start", marshal(t, startParams{}))
	var started struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	wire.DecodeParams(resp.Result, &started)

	svc.Shutdown()
}
