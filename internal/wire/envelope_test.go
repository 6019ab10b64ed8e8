package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest("terminal.session.start", map[string]any{"shell": "/bin/sh"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != TypeRequest || decoded.Method != req.Method || decoded.ID != req.ID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestResponseOmitsNullResultAndError(t *testing.T) {
	resp := ErrorResponse(uuid.New(), InvalidParams("bad"))
	data, err := resp.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"result"`) {
		t.Errorf("error response should omit result field: %s", data)
	}

	ok, err := SuccessResponse(uuid.New(), map[string]bool{"ok": true})
	if err != nil {
		t.Fatal(err)
	}
	data, err = ok.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("success response should omit error field: %s", data)
	}
}

func TestRequestOmitsNullParams(t *testing.T) {
	req, err := NewRequest("terminal.session.list", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"params"`) {
		t.Errorf("request with nil params should omit the field: %s", data)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev, err := NewEvent("terminal.session.exit", map[string]any{"session_id": "abc"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != TypeEvent || decoded.Topic != ev.Topic {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodeUnknownTypeRejected(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecodeParamsNoOpOnAbsent(t *testing.T) {
	var v struct {
		Shell string `json:"shell"`
	}
	if err := DecodeParams(nil, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Shell != "" {
		t.Errorf("expected zero value, got %+v", v)
	}
}

func TestDecodeParamsUnmarshals(t *testing.T) {
	var v struct {
		Shell string `json:"shell"`
	}
	raw := json.RawMessage(`{"shell":"/bin/zsh"}`)
	if err := DecodeParams(raw, &v); err != nil {
		t.Fatal(err)
	}
	if v.Shell != "/bin/zsh" {
		t.Errorf("got %q, want /bin/zsh", v.Shell)
	}
}
