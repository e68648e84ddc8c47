// Package protocol implements the fixed-width edge handshake frame sent as
// the first payload on every bi-stream the Listener opens towards the
// Connector. The format is preserved byte-for-byte for wire compatibility:
// a future length-prefixed codec would be preferable but is out of scope.
package protocol

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxVectorSize is the fixed frame size used both for the handshake and as
// the per-direction buffer size in the byte bridge.
const MaxVectorSize = 1024

// PingTarget is a reserved edge address that marks a handshake frame as a
// health probe rather than a real manager tunnel. It can never collide with
// a real "host:port" target because it contains no ':'.
const PingTarget = "__PING__"

// Handshake is the decoded form of a HandshakeFrame.
type Handshake struct {
	StreamID   string
	EdgeTarget string
}

// IsPing reports whether this handshake is a health probe rather than a
// request to dial an edge TCP server.
func (h Handshake) IsPing() bool {
	return h.EdgeTarget == PingTarget
}

// EncodeFrame renders a Handshake as the fixed MaxVectorSize-byte wire frame:
// "<stream_id>|<edge_target>" right-padded with NUL bytes.
func EncodeFrame(h Handshake) ([]byte, error) {
	payload := fmt.Sprintf("%s|%s", h.StreamID, h.EdgeTarget)
	if len(payload) > MaxVectorSize {
		return nil, fmt.Errorf("handshake payload %d bytes exceeds frame size %d", len(payload), MaxVectorSize)
	}
	frame := make([]byte, MaxVectorSize)
	copy(frame, payload)
	return frame, nil
}

// WriteFrame writes the encoded handshake frame to w.
func WriteFrame(w io.Writer, h Handshake) error {
	frame, err := EncodeFrame(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write handshake frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly MaxVectorSize bytes from r and decodes them into a
// Handshake. It is a protocol error if the trimmed payload is not valid
// UTF-8 or contains no '|' separator.
func ReadFrame(r io.Reader) (Handshake, error) {
	buf := make([]byte, MaxVectorSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("read handshake frame: %w", err)
	}
	return DecodeFrame(buf)
}

// DecodeFrame trims trailing NUL padding from a raw MaxVectorSize-byte frame
// and splits it into stream id and edge target.
func DecodeFrame(buf []byte) (Handshake, error) {
	trimmedBytes := trimTrailingNUL(buf)
	if !utf8.Valid(trimmedBytes) {
		return Handshake{}, fmt.Errorf("handshake frame is not valid UTF-8")
	}
	trimmed := string(trimmedBytes)
	idx := strings.IndexByte(trimmed, '|')
	if idx < 0 {
		return Handshake{}, fmt.Errorf("handshake frame missing '|' separator")
	}
	return Handshake{
		StreamID:   trimmed[:idx],
		EdgeTarget: trimmed[idx+1:],
	}, nil
}

func trimTrailingNUL(buf []byte) []byte {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return buf[:end]
}
