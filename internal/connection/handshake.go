package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/homiegw/internal/identity"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// handshakeTimeout bounds how long a freshly accepted socket has to send
// its ClientHello before the gateway gives up and closes it.
const handshakeTimeout = 5 * time.Second

// ServiceCapability advertises one namespace's version in ServerHello.
type ServiceCapability struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type clientHello struct {
	Protocol     wire.VersionRange `json:"protocol"`
	ClientID     string            `json:"client_id"`
	AuthToken    string            `json:"auth_token,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

type serverHello struct {
	Type            string              `json:"type"`
	ProtocolVersion uint16              `json:"protocol_version"`
	ServerID        string              `json:"server_id"`
	Identity        *string             `json:"identity,omitempty"`
	Services        []ServiceCapability `json:"services"`
}

// identityString renders id the way the external authenticator boundary
// does: a bare string such as "local", "lan", or a Mesh identity's
// login, never a structured object. Rejected identities never reach a
// hello and have no string form.
func identityString(id identity.Identity) *string {
	var s string
	switch id.Kind {
	case identity.KindLocal:
		s = "local"
	case identity.KindLan:
		s = "lan"
	case identity.KindMesh:
		s = id.Login
	default:
		return nil
	}
	return &s
}

// RejectReason enumerates why the gateway refused a handshake.
type RejectReason string

const (
	ReasonServerError     RejectReason = "server_error"
	ReasonVersionMismatch RejectReason = "version_mismatch"
	ReasonUnauthorized    RejectReason = "unauthorized"
)

type reject struct {
	Type   string       `json:"type"`
	Code   RejectReason `json:"code"`
	Reason string       `json:"reason,omitempty"`
}

// socket is the minimal surface handshake and the connection loop need
// from a websocket connection, so both can be exercised against a fake
// in tests without spinning up a real listener.
type socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// HandshakeError reports a failed handshake; the caller has already had
// the appropriate Reject sent and the socket closed by the time this is
// returned.
type HandshakeError struct {
	Reason  RejectReason
	Message string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed (%s): %s", e.Reason, e.Message)
}

// Handshake runs C3 against a freshly accepted socket, returning the
// negotiated protocol version. On failure it has already sent a Reject
// and closed sock with code 4001.
func Handshake(ctx context.Context, sock socket, serverID string, id identity.Identity, services []ServiceCapability) (uint16, error) {
	return performHandshake(ctx, sock, serverID, id, services)
}

// performHandshake runs C3: receive one ClientHello within
// handshakeTimeout, negotiate a protocol version, and send ServerHello.
// Any failure sends a Reject and closes the socket with code 4001 before
// returning an error.
func performHandshake(ctx context.Context, sock socket, serverID string, id identity.Identity, services []ServiceCapability) (uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	typ, data, err := sock.Read(ctx)
	if err != nil {
		return 0, failHandshake(sock, ReasonServerError, "timed out waiting for client hello: "+err.Error())
	}
	if typ != websocket.MessageText {
		return 0, failHandshake(sock, ReasonServerError, "expected text frame for client hello")
	}

	var hello clientHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return 0, failHandshake(sock, ReasonServerError, "malformed client hello: "+err.Error())
	}

	version, ok := wire.Negotiate(hello.Protocol, wire.ServerRange)
	if !ok {
		reason := fmt.Sprintf("no common version: server=%d-%d client=%d-%d",
			wire.ServerRange.Min, wire.ServerRange.Max, hello.Protocol.Min, hello.Protocol.Max)
		return 0, failHandshake(sock, ReasonVersionMismatch, reason)
	}

	greeting := serverHello{
		Type:            "hello",
		ProtocolVersion: version,
		ServerID:        serverID,
		Identity:        identityString(id),
		Services:        services,
	}
	out, err := json.Marshal(greeting)
	if err != nil {
		return 0, failHandshake(sock, ReasonServerError, "encode server hello: "+err.Error())
	}
	if err := sock.Write(ctx, websocket.MessageText, out); err != nil {
		return 0, failHandshake(sock, ReasonServerError, "write server hello: "+err.Error())
	}

	return version, nil
}

func failHandshake(sock socket, reason RejectReason, message string) error {
	payload, err := json.Marshal(reject{Type: "reject", Code: reason, Reason: message})
	if err == nil {
		sock.Write(context.Background(), websocket.MessageText, payload)
	}
	sock.Close(websocket.StatusCode(wire.CloseHandshakeReject), string(reason))
	return &HandshakeError{Reason: reason, Message: message}
}
