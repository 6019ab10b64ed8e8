// Package wire implements the gateway's text and binary wire formats: the
// JSON request/response/event envelope and the fixed-header binary PTY
// frame, plus the version-range negotiation used during handshake.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType discriminates the envelope's three shapes.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
)

// Envelope is the decoded form of one text frame. Exactly one of Method
// (request), Result/Err (response), or Topic (event) is populated,
// depending on Type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      uuid.UUID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Err     *RPCError       `json:"error,omitempty"`
	Topic   string          `json:"topic,omitempty"`
}

// rawEnvelope mirrors Envelope but lets response/event fields stay absent
// from the output entirely rather than serializing as null, matching the
// "omit explicit nulls" requirement of the wire format.
type rawEnvelope struct {
	Type   MessageType     `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *RPCError       `json:"error,omitempty"`
	Topic  string          `json:"topic,omitempty"`
}

// NewRequest builds a fresh request envelope with a generated id.
func NewRequest(method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeRequest, ID: uuid.New(), Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return b, nil
}

// SuccessResponse builds a response envelope carrying a result.
func SuccessResponse(id uuid.UUID, result any) (*Envelope, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeResponse, ID: id, Result: raw}, nil
}

// ErrorResponse builds a response envelope carrying a structured error.
func ErrorResponse(id uuid.UUID, err *RPCError) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Err: err}
}

// NewEvent builds an event envelope. Events carry no id.
func NewEvent(topic string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeEvent, Topic: topic, Params: raw}, nil
}

// Encode serializes the envelope to its wire JSON form, omitting fields
// that don't apply to this message's Type.
func (e *Envelope) Encode() ([]byte, error) {
	r := rawEnvelope{Type: e.Type, Topic: e.Topic, Method: e.Method, Params: e.Params, Result: e.Result, Err: e.Err}
	if e.ID != uuid.Nil {
		r.ID = e.ID.String()
	}
	return json.Marshal(r)
}

// Decode parses a text frame into an Envelope. Unknown Type values are
// rejected.
func Decode(data []byte) (*Envelope, error) {
	var r rawEnvelope
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch r.Type {
	case TypeRequest, TypeResponse, TypeEvent:
	default:
		return nil, fmt.Errorf("decode envelope: unknown type %q", r.Type)
	}
	e := &Envelope{Type: r.Type, Method: r.Method, Params: r.Params, Result: r.Result, Err: r.Err, Topic: r.Topic}
	if r.ID != "" {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("decode envelope: invalid id: %w", err)
		}
		e.ID = id
	}
	return e, nil
}

// DecodeParams unmarshals the envelope's Params (or Result) into v. It is
// a no-op returning nil if the raw field is absent, so optional-params
// methods can call it unconditionally and rely on zero values.
func DecodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
