package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	h := Handshake{StreamID: "stable-3", EdgeTarget: "127.0.0.1:9000"}
	frame, err := EncodeFrame(h)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(frame) != MaxVectorSize {
		t.Fatalf("frame length = %d, want %d", len(frame), MaxVectorSize)
	}
	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	h := Handshake{StreamID: "abc-1", EdgeTarget: "10.0.0.1:22"}
	if err := WriteFrame(&buf, h); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != MaxVectorSize {
		t.Fatalf("written length = %d, want %d", buf.Len(), MaxVectorSize)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != h {
		t.Fatalf("mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeFrameMissingSeparator(t *testing.T) {
	frame := make([]byte, MaxVectorSize)
	copy(frame, "no-separator-here")
	if _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected error for frame without '|'")
	}
}

func TestDecodeFrameInvalidUTF8(t *testing.T) {
	frame := make([]byte, MaxVectorSize)
	copy(frame, []byte{'a', '|', 0xff, 0xfe})
	if _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestEncodeFrameTooLong(t *testing.T) {
	h := Handshake{StreamID: strings.Repeat("x", MaxVectorSize), EdgeTarget: "a:1"}
	if _, err := EncodeFrame(h); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestPingSentinel(t *testing.T) {
	h := Handshake{StreamID: "probe-1", EdgeTarget: PingTarget}
	if !h.IsPing() {
		t.Fatal("expected IsPing() true for sentinel target")
	}
	real := Handshake{StreamID: "stream-1", EdgeTarget: "127.0.0.1:9000"}
	if real.IsPing() {
		t.Fatal("expected IsPing() false for real edge target")
	}
}
