package connection

import (
	"testing"

	"github.com/ehrlich-b/homiegw/internal/identity"
)

func TestAuthorizedOwnerCoversEverything(t *testing.T) {
	for method := range scopeTable {
		if !authorized(identity.RoleOwner, method) {
			t.Fatalf("owner should be authorized for %s", method)
		}
	}
}

func TestAuthorizedViewerDeniedPrivilegedMethod(t *testing.T) {
	if authorized(identity.RoleViewer, "terminal.session.start") {
		t.Fatal("viewer should not be able to start a session")
	}
}

func TestAuthorizedDefaultsToViewerForUnlistedMethod(t *testing.T) {
	if !authorized(identity.RoleViewer, "terminal.session.list") {
		t.Fatal("unlisted read-only method should default to viewer-accessible")
	}
}

func TestAuthorizedUserBelowOwnerRequirement(t *testing.T) {
	if authorized(identity.RoleUser, "agent.start") {
		t.Fatal("user should not be able to start an agent chat")
	}
	if !authorized(identity.RoleUser, "agent.send") {
		t.Fatal("user should be able to send to an agent chat")
	}
}
