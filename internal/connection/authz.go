package connection

import "github.com/ehrlich-b/homiegw/internal/identity"

// roleRank gives each role a total order so "covers" can be expressed as
// a simple integer comparison: Owner covers everything User covers,
// which covers everything Viewer covers.
var roleRank = map[identity.Role]int{
	identity.RoleViewer: 0,
	identity.RoleUser:   1,
	identity.RoleOwner:  2,
}

// scopeTable maps a method to the minimum role required to invoke it.
// A method absent from the table defaults to RoleViewer: read-only
// surfaces (the *.list/*.status methods) need no explicit entry.
var scopeTable = map[string]identity.Role{
	"terminal.session.start":  identity.RoleOwner,
	"terminal.session.kill":   identity.RoleOwner,
	"terminal.session.remove": identity.RoleOwner,
	"terminal.tmux.kill":      identity.RoleOwner,
	"agent.start":             identity.RoleOwner,
	"agent.stop":              identity.RoleOwner,
	"agent.approve":           identity.RoleOwner,
	"jobs.start":              identity.RoleOwner,
	"jobs.cancel":             identity.RoleOwner,
	"pairing.create":          identity.RoleOwner,

	"terminal.session.attach": identity.RoleUser,
	"terminal.session.detach": identity.RoleUser,
	"terminal.session.resize": identity.RoleUser,
	"terminal.session.input":  identity.RoleUser,
	"terminal.tmux.attach":    identity.RoleUser,
	"agent.send":              identity.RoleUser,
	"agent.attach":            identity.RoleUser,
	"agent.detach":            identity.RoleUser,
	"jobs.logs.tail":          identity.RoleUser,
	"pairing.claim":           identity.RoleUser,
	"notifications.mark_read": identity.RoleUser,
	"presence.register":       identity.RoleUser,
	"presence.heartbeat":      identity.RoleUser,
	"events.subscribe":        identity.RoleUser,
	"events.unsubscribe":      identity.RoleUser,
}

// authorized reports whether role covers method's required scope.
func authorized(role identity.Role, method string) bool {
	required, ok := scopeTable[method]
	if !ok {
		required = identity.RoleViewer
	}
	return roleRank[role] >= roleRank[required]
}
