package connection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/homiegw/internal/identity"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// fakeSocket implements the socket interface over in-memory queues so
// the handshake state machine can be exercised without a real listener.
type fakeSocket struct {
	inbox   [][]byte
	inType  websocket.MessageType
	readErr error

	written [][]byte
	closed  bool
	closeCode websocket.StatusCode
	closeReason string
}

func (f *fakeSocket) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	if f.readErr != nil {
		return 0, nil, f.readErr
	}
	if len(f.inbox) == 0 {
		return 0, nil, errors.New("no more messages")
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return f.inType, msg, nil
}

func (f *fakeSocket) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	f.written = append(f.written, data)
	return nil
}

func (f *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func TestPerformHandshakeSuccess(t *testing.T) {
	hello := clientHello{Protocol: wire.VersionRange{Min: 1, Max: 1}, ClientID: "c1"}
	data, _ := json.Marshal(hello)
	sock := &fakeSocket{inbox: [][]byte{data}, inType: websocket.MessageText}

	version, err := performHandshake(context.Background(), sock, "server-1", identity.Identity{Kind: identity.KindLocal}, []ServiceCapability{{Service: "terminal", Version: "1.0"}})
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if version != wire.CurrentVersion {
		t.Fatalf("got version %d", version)
	}
	if len(sock.written) != 1 {
		t.Fatalf("expected one server hello write, got %d", len(sock.written))
	}
	var greeting serverHello
	if err := json.Unmarshal(sock.written[0], &greeting); err != nil {
		t.Fatal(err)
	}
	if greeting.ServerID != "server-1" || len(greeting.Services) != 1 {
		t.Fatalf("got %+v", greeting)
	}
	if sock.closed {
		t.Fatal("socket should not be closed on success")
	}
}

func TestPerformHandshakeVersionMismatch(t *testing.T) {
	hello := clientHello{Protocol: wire.VersionRange{Min: 99, Max: 100}, ClientID: "c1"}
	data, _ := json.Marshal(hello)
	sock := &fakeSocket{inbox: [][]byte{data}, inType: websocket.MessageText}

	_, err := performHandshake(context.Background(), sock, "server-1", identity.Identity{Kind: identity.KindLocal}, nil)
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) || hsErr.Reason != ReasonVersionMismatch {
		t.Fatalf("expected version mismatch error, got %v", err)
	}
	if !sock.closed || sock.closeCode != websocket.StatusCode(wire.CloseHandshakeReject) {
		t.Fatalf("expected close with handshake reject code, got closed=%v code=%v", sock.closed, sock.closeCode)
	}
}

func TestPerformHandshakeMalformedJSON(t *testing.T) {
	sock := &fakeSocket{inbox: [][]byte{[]byte("not json")}, inType: websocket.MessageText}

	_, err := performHandshake(context.Background(), sock, "server-1", identity.Identity{Kind: identity.KindLocal}, nil)
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) || hsErr.Reason != ReasonServerError {
		t.Fatalf("expected server error reason, got %v", err)
	}
	if !sock.closed {
		t.Fatal("expected socket to be closed")
	}
}

func TestPerformHandshakeNonTextFrame(t *testing.T) {
	sock := &fakeSocket{inbox: [][]byte{{1, 2, 3}}, inType: websocket.MessageBinary}

	_, err := performHandshake(context.Background(), sock, "server-1", identity.Identity{Kind: identity.KindLocal}, nil)
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) || hsErr.Reason != ReasonServerError {
		t.Fatalf("expected server error reason, got %v", err)
	}
}

func TestPerformHandshakeReadError(t *testing.T) {
	sock := &fakeSocket{readErr: errors.New("boom")}

	_, err := performHandshake(context.Background(), sock, "server-1", identity.Identity{Kind: identity.KindLocal}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !sock.closed {
		t.Fatal("expected socket closed on read failure")
	}
}
