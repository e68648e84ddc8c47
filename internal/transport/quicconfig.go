// Package transport centralizes the QUIC transport invariants shared by the
// Listener acceptor and the Connector dialer: ALPN, keep-alive, idle
// timeout, and the bi-stream-only restriction.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	quic "github.com/quic-go/quic-go"
)

// ALPN is the protocol negotiated on every QUIC connection this system
// establishes.
const ALPN = "hq-29"

// KeepAlive and IdleTimeout bound the QUIC connection's liveness checking.
// KeepAlive must stay strictly less than IdleTimeout on both peers or a
// healthy connection can be torn down by its own idle timer.
const (
	KeepAlive  = 50 * time.Second
	IdleTimeout = 60 * time.Second
)

// QUICConfig returns the quic.Config shared by acceptor and dialer: no
// unidirectional streams, fixed keep-alive and idle timeout.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout: IdleTimeout,
		KeepAlivePeriod: KeepAlive,
		// Negative disables unidirectional stream acceptance entirely,
		// matching max_concurrent_uni_streams=0: this system only ever
		// opens bi-streams.
		MaxIncomingUniStreams: -1,
	}
}

// ServerTLSConfig builds the Listener-side tls.Config: mTLS required, ALPN
// hq-29. Client identity is not decided here — the acceptor defers to the
// Verifier after the handshake completes.
func ServerTLSConfig(cert tls.Certificate, clientCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig builds the Connector-side tls.Config: presents cert as
// the client certificate, verifies the Listener's certificate against
// rootCAs, and authenticates the server name.
func ClientTLSConfig(cert tls.Certificate, rootCAs *x509.CertPool, serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      rootCAs,
		ServerName:   serverName,
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}
