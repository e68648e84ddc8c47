// Package acceptor implements the Listener QUIC Acceptor (component E): it
// terminates inbound QUIC connections, resolves the peer's identity through
// the Verifier, and hands live connections to the Tunnel Registry.
package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"log"

	quic "github.com/quic-go/quic-go"

	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
	"tunnelbroker/internal/transport"
	"tunnelbroker/internal/verifier"
)

// Acceptor terminates QUIC connections on one bound address and registers
// verified peers into reg.
type Acceptor struct {
	TLSConfig *tls.Config
	Verifier  *verifier.Client
	Registry  *registry.Registry
	Status    *status.Monitor
}

// New returns an Acceptor wired to reg and v. tlsConfig carries the
// Listener's own identity and bounds which client certificates are accepted
// at the TLS layer (the Verifier decides identity, not CA pool membership).
// mon is forgotten for a uid once its session ends, so /status stops
// reporting stale probe state for evicted tunnels.
func New(tlsConfig *tls.Config, v *verifier.Client, reg *registry.Registry, mon *status.Monitor) *Acceptor {
	return &Acceptor{TLSConfig: tlsConfig, Verifier: v, Registry: reg, Status: mon}
}

// Serve listens for QUIC connections on addr until ctx is cancelled. Each
// accepted connection is verified and registered in its own goroutine so a
// slow or hostile peer cannot stall other handshakes.
func (a *Acceptor) Serve(ctx context.Context, addr string) error {
	ln, err := quic.ListenAddr(addr, a.TLSConfig, transport.QUICConfig())
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go a.handle(conn)
	}
}

// handle verifies conn's peer certificate and registers it under the uid
// the Verifier assigns. Any failure closes conn; it never reaches the
// registry.
func (a *Acceptor) handle(conn *quic.Conn) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		conn.CloseWithError(0, "no peer certificate presented")
		return
	}
	leaf := state.PeerCertificates[0]

	uid, err := a.Verifier.Verify(leaf.Raw)
	if err != nil {
		log.Printf("acceptor: verifier rejected %s: %v", conn.RemoteAddr(), err)
		conn.CloseWithError(1, "verification failed")
		return
	}

	if err := a.Registry.Register(uid, conn); err != nil {
		log.Printf("acceptor: registration rejected for uid %s: %v", uid, err)
		conn.CloseWithError(2, "duplicate live session")
		return
	}

	log.Printf("acceptor: registered uid %s from %s", uid, conn.RemoteAddr())

	<-conn.Context().Done()
	a.Registry.Remove(uid, conn)
	if a.Status != nil {
		a.Status.Forget(uid)
	}
	if err := context.Cause(conn.Context()); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("acceptor: session for uid %s ended: %v", uid, err)
	}
}
