package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &BinaryFrame{SessionID: uuid.New(), Stream: StreamStdout, Payload: []byte("hello world")}
	encoded := EncodeFrame(f)
	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SessionID != f.SessionID {
		t.Errorf("session id mismatch: got %s want %s", decoded.SessionID, f.SessionID)
	}
	if decoded.Stream != f.Stream {
		t.Errorf("stream mismatch: got %d want %d", decoded.Stream, f.Stream)
	}
	if !bytes.Equal(decoded.Payload, f.Payload) {
		t.Errorf("payload mismatch: got %q want %q", decoded.Payload, f.Payload)
	}
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	f := &BinaryFrame{SessionID: uuid.New(), Stream: StreamStdin}
	decoded, err := DecodeFrame(EncodeFrame(f))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(decoded.Payload))
	}
}

func TestFrameExactly17Bytes(t *testing.T) {
	data := make([]byte, 17)
	data[16] = byte(StreamStderr)
	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("expected empty payload at exactly 17 bytes")
	}
}

func TestFrameTooShort(t *testing.T) {
	for _, n := range []int{0, 1, 16} {
		_, err := DecodeFrame(make([]byte, n))
		if err == nil {
			t.Fatalf("expected error decoding %d bytes", n)
		}
		var tooShort *FrameTooShortError
		if _, ok := err.(*FrameTooShortError); !ok {
			t.Errorf("expected FrameTooShortError, got %T", err)
		}
		_ = tooShort
	}
}

func TestFrameInvalidStreamType(t *testing.T) {
	data := make([]byte, 20)
	data[16] = 7
	_, err := DecodeFrame(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*InvalidStreamTypeError); !ok {
		t.Errorf("expected InvalidStreamTypeError, got %T", err)
	}
}
