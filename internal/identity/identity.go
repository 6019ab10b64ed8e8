// Package identity classifies a connecting socket into one of the
// gateway's identity outcomes and maps that outcome to an authorization
// role. The default classifier looks only at remote address and an
// optional bearer JWT; it is deliberately small so an operator can swap
// in their own resolver without touching the connection loop.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// Kind discriminates the identity outcomes a connecting socket can
// resolve to.
type Kind string

const (
	KindLocal    Kind = "local"
	KindLan      Kind = "lan"
	KindMesh     Kind = "mesh"
	KindRejected Kind = "rejected"
)

// Identity is the resolved outcome of classifying one connection.
type Identity struct {
	Kind        Kind
	Login       string
	DisplayName string
	ProfilePic  string
	Tailnet     string
	Reason      string // set when Kind == KindRejected
}

// Role is the authorization role a resolved identity carries for the
// lifetime of its connection.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// RoleMapping assigns a Role to each non-rejected Kind. Rejected
// identities never reach role mapping; the upgrade request is refused
// with HTTP 401 before any websocket handshake.
type RoleMapping struct {
	Local Role
	Lan   Role
	Mesh  Role
}

// DefaultRoleMapping matches the gateway's stated defaults: anything
// reaching the loopback or LAN boundary is trusted as the owner, and a
// verified remote identity gets the lesser User role.
func DefaultRoleMapping() RoleMapping {
	return RoleMapping{Local: RoleOwner, Lan: RoleOwner, Mesh: RoleUser}
}

// Role resolves id's role under m. Callers must reject KindRejected
// identities before reaching here; Role returns RoleViewer for them as a
// harmless fallback rather than panicking.
func (m RoleMapping) Role(id Identity) Role {
	switch id.Kind {
	case KindLocal:
		return m.Local
	case KindLan:
		return m.Lan
	case KindMesh:
		return m.Mesh
	default:
		return RoleViewer
	}
}

// VerifyFunc validates a bearer token and returns the Mesh subject it
// asserts. A nil VerifyFunc means no bearer tokens are ever accepted,
// so anything outside Local/Lan is Rejected.
type VerifyFunc func(token string) (Identity, error)

// Classify resolves r's remote address (and, if present, bearer token)
// into an Identity. It never itself decides the role; call
// RoleMapping.Role on the result for that.
func Classify(r *http.Request, verify VerifyFunc) Identity {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)

	if ip != nil && ip.IsLoopback() {
		return Identity{Kind: KindLocal}
	}
	if ip != nil && isPrivate(ip) {
		return Identity{Kind: KindLan}
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return Identity{Kind: KindRejected, Reason: "no bearer token from non-local address"}
	}
	if verify == nil {
		return Identity{Kind: KindRejected, Reason: "bearer token present but no verifier configured"}
	}
	id, err := verify(token)
	if err != nil {
		return Identity{Kind: KindRejected, Reason: err.Error()}
	}
	return id
}

// isPrivate reports whether ip falls in an RFC1918 or IPv6 ULA range.
func isPrivate(ip net.IP) bool {
	return ip.IsPrivate()
}
