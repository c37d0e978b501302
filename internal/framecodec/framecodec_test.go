package framecodec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello chunk")
	data, err := Encode("transfer-1", 42, payload)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	frame, ok := Decode(data)
	if !ok {
		t.Fatalf("Decode rejected a valid frame")
	}
	if frame.ID != "transfer-1" {
		t.Errorf("ID = %q, want %q", frame.ID, "transfer-1")
	}
	if frame.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", frame.Sequence)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("Payload = %q, want %q", frame.Payload, payload)
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	data, err := Encode("t", 0, nil)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	frame, ok := Decode(data)
	if !ok || len(frame.Payload) != 0 {
		t.Fatalf("expected empty-payload frame, got %+v ok=%v", frame, ok)
	}
}

func TestEncodeIDTooLong(t *testing.T) {
	longID := strings.Repeat("x", 256)
	_, err := Encode(longID, 0, []byte("data"))
	if !errors.Is(err, ErrIDTooLong) {
		t.Fatalf("expected ErrIDTooLong, got %v", err)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		if _, ok := Decode(make([]byte, n)); ok {
			t.Errorf("Decode accepted a %d-byte buffer", n)
		}
	}
}

func TestDecodeRejectsWrongTag(t *testing.T) {
	data, _ := Encode("t", 1, []byte("x"))
	data[0] = 0x02
	if _, ok := Decode(data); ok {
		t.Error("Decode accepted a frame with the wrong tag")
	}
}

func TestDecodeRejectsOverrunningIDLength(t *testing.T) {
	// tag, idLen=200 but buffer has nowhere near 200+4 bytes following.
	data := []byte{frameTag, 200, 'a', 'b', 'c'}
	if _, ok := Decode(data); ok {
		t.Error("Decode accepted a frame whose id length overruns the buffer")
	}
}

func TestDecodeIgnoresNonChunkBinary(t *testing.T) {
	// An arbitrary binary blob that happens to start with the tag byte
	// but declares a zero-length id is not a structurally valid chunk
	// frame, so Decode must reject it and the caller drops it.
	data := []byte{frameTag, 0, 0, 0, 0, 0}
	if _, ok := Decode(data); ok {
		t.Error("Decode accepted a frame with zero-length id")
	}
}
