package identity

import (
	"net/http"
	"testing"
)

func TestClassifyLoopback(t *testing.T) {
	r := &http.Request{RemoteAddr: "127.0.0.1:54321", Header: http.Header{}}
	id := Classify(r, nil)
	if id.Kind != KindLocal {
		t.Fatalf("got %+v", id)
	}
}

func TestClassifyPrivateLAN(t *testing.T) {
	r := &http.Request{RemoteAddr: "192.168.1.50:1234", Header: http.Header{}}
	id := Classify(r, nil)
	if id.Kind != KindLan {
		t.Fatalf("got %+v", id)
	}
}

func TestClassifyPublicWithoutTokenIsRejected(t *testing.T) {
	r := &http.Request{RemoteAddr: "8.8.8.8:1234", Header: http.Header{}}
	id := Classify(r, nil)
	if id.Kind != KindRejected {
		t.Fatalf("got %+v", id)
	}
}

func TestClassifyPublicWithVerifiedTokenIsMesh(t *testing.T) {
	r := &http.Request{RemoteAddr: "8.8.8.8:1234", Header: http.Header{"Authorization": {"Bearer good"}}}
	verify := func(token string) (Identity, error) {
		return Identity{Kind: KindMesh, Login: "alice"}, nil
	}
	id := Classify(r, verify)
	if id.Kind != KindMesh || id.Login != "alice" {
		t.Fatalf("got %+v", id)
	}
}

func TestDefaultRoleMapping(t *testing.T) {
	m := DefaultRoleMapping()
	cases := []struct {
		kind Kind
		want Role
	}{
		{KindLocal, RoleOwner},
		{KindLan, RoleOwner},
		{KindMesh, RoleUser},
	}
	for _, c := range cases {
		if got := m.Role(Identity{Kind: c.kind}); got != c.want {
			t.Fatalf("role(%s) = %s, want %s", c.kind, got, c.want)
		}
	}
}
