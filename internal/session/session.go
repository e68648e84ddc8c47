// Package session implements the Connector Session (component D) and the
// per-stream Connector Stream Handler (component C): dial the Listener over
// QUIC, then service every bi-stream it opens until the connection drains
// or fails.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"

	quic "github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"tunnelbroker/internal/bridge"
	"tunnelbroker/internal/protocol"
	"tunnelbroker/internal/transport"
)

// Session dials one Listener and services its bi-streams until it drains or
// fails. A Session is single-use: call Run once.
type Session struct {
	TLSConfig *tls.Config
	Addr      string // "host:port" of the Listener's QUIC endpoint
}

// New returns a Session ready to dial addr.
func New(tlsConfig *tls.Config, addr string) *Session {
	return &Session{TLSConfig: tlsConfig, Addr: addr}
}

// Run dials the Listener, then accepts bi-streams until the Listener closes
// the connection with an application error ("Draining" in the state
// machine) or ctx is cancelled. Any other accept error is returned as a
// session failure. Run blocks until every outstanding stream handler
// finishes.
func (s *Session) Run(ctx context.Context) error {
	conn, err := quic.DialAddr(ctx, s.Addr, s.TLSConfig, transport.QUICConfig())
	if err != nil {
		return err
	}
	defer conn.CloseWithError(0, "")

	g, gctx := errgroup.WithContext(ctx)

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if isApplicationClose(err) || ctx.Err() != nil {
				break // Draining: finish outstanding tasks, then Closed.
			}
			g.Wait()
			return err
		}
		g.Go(func() error {
			handleStream(gctx, stream)
			return nil
		})
	}

	return g.Wait()
}

// isApplicationClose reports whether err is the Listener cleanly closing
// the QUIC connection at the application layer, as opposed to a transport
// failure.
func isApplicationClose(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr)
}

// handleStream implements the per-bi-stream state machine: Opened ->
// HandshakeRead -> (Ping | Bridging) -> Closed.
func handleStream(ctx context.Context, stream *quic.Stream) {
	hs, err := protocol.ReadFrame(stream)
	if err != nil {
		log.Printf("session: handshake read failed: %v", err)
		stream.CancelRead(1)
		stream.CancelWrite(1)
		return
	}

	if hs.IsPing() {
		respondToPing(stream)
		return
	}

	edgeConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", hs.EdgeTarget)
	if err != nil {
		log.Printf("session: dial edge %s failed: %v", hs.EdgeTarget, err)
		stream.CancelWrite(2)
		stream.CancelRead(2)
		return
	}

	bridge.Run(stream, edgeConn, nil)
}

// respondToPing answers a health-probe handshake with a single ack byte,
// letting the Listener measure round-trip time without dialing an edge
// server.
func respondToPing(stream *quic.Stream) {
	if _, err := stream.Write([]byte{1}); err != nil {
		log.Printf("session: ping ack write failed: %v", err)
	}
	stream.Close()
}
