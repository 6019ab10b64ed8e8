package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamType identifies which PTY stream a binary frame's payload belongs
// to.
type StreamType byte

const (
	StreamStdout StreamType = 0
	StreamStderr StreamType = 1
	StreamStdin  StreamType = 2
)

func (s StreamType) Valid() bool {
	return s == StreamStdout || s == StreamStderr || s == StreamStdin
}

// frameHeaderLen is the session id (16 bytes) plus the stream discriminator
// (1 byte) that precedes every binary frame's payload.
const frameHeaderLen = 17

// BinaryFrame is the decoded form of one WebSocket binary message: a
// session id, a stream discriminator, and an opaque payload.
type BinaryFrame struct {
	SessionID uuid.UUID
	Stream    StreamType
	Payload   []byte
}

// EncodeFrame serializes a binary frame to its wire form.
func EncodeFrame(f *BinaryFrame) []byte {
	out := make([]byte, frameHeaderLen+len(f.Payload))
	copy(out[0:16], f.SessionID[:])
	out[16] = byte(f.Stream)
	copy(out[17:], f.Payload)
	return out
}

// FrameTooShortError reports a binary message shorter than the minimum
// frame header.
type FrameTooShortError struct {
	Expected int
	Got      int
}

func (e *FrameTooShortError) Error() string {
	return fmt.Sprintf("frame too short: expected at least %d bytes, got %d", e.Expected, e.Got)
}

// InvalidStreamTypeError reports a stream discriminator byte outside
// {0,1,2}.
type InvalidStreamTypeError struct {
	Value byte
}

func (e *InvalidStreamTypeError) Error() string {
	return fmt.Sprintf("invalid stream type: %d", e.Value)
}

// DecodeFrame parses a binary message into a BinaryFrame. The payload
// slice aliases the tail of data; callers that retain it across the
// caller's buffer lifetime should copy it.
func DecodeFrame(data []byte) (*BinaryFrame, error) {
	if len(data) < frameHeaderLen {
		return nil, &FrameTooShortError{Expected: frameHeaderLen, Got: len(data)}
	}
	stream := StreamType(data[16])
	if !stream.Valid() {
		return nil, &InvalidStreamTypeError{Value: data[16]}
	}
	var id uuid.UUID
	copy(id[:], data[0:16])
	payload := data[frameHeaderLen:]
	return &BinaryFrame{SessionID: id, Stream: stream, Payload: payload}, nil
}
