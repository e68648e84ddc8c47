package manager

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	quic "github.com/quic-go/quic-go"

	"tunnelbroker/internal/certutil"
	"tunnelbroker/internal/limiter"
	"tunnelbroker/internal/protocol"
	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
)

func registeredPair(t *testing.T) (*registry.Registry, string, *quic.Conn) {
	t.Helper()
	cert, err := certutil.GenerateSelfSigned("manager-test")
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"manager-test"}}
	clientTLS := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"manager-test"}}

	ln, err := quic.ListenAddr("127.0.0.1:0", serverTLS, nil)
	if err != nil {
		t.Fatalf("ListenAddr: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan *quic.Conn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		if err == nil {
			acceptedCh <- conn
		}
	}()

	listenerSideConn, err := quic.DialAddr(context.Background(), ln.Addr().String(), clientTLS, nil)
	if err != nil {
		t.Fatalf("DialAddr: %v", err)
	}
	connectorSideConn := <-acceptedCh

	reg := registry.New()
	uid := "u1"
	if err := reg.Register(uid, listenerSideConn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg, uid, connectorSideConn
}

// TestServeBridgesAcceptedConnections proves an accepted TCP connection
// becomes a bi-stream whose handshake carries the port's configured edge
// target.
func TestServeBridgesAcceptedConnections(t *testing.T) {
	reg, uid, connectorSideConn := registeredPair(t)
	defer connectorSideConn.CloseWithError(0, "")

	bound, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, bound, reg, uid, "10.0.0.5", 9000, limiter.New(0))

	streamCh := make(chan *quic.Stream, 1)
	go func() {
		s, err := connectorSideConn.AcceptStream(context.Background())
		if err == nil {
			streamCh <- s
		}
	}()

	client, err := net.Dial("tcp", bound.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var stream *quic.Stream
	select {
	case stream = <-streamCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bi-stream")
	}

	frame := make([]byte, protocol.MaxVectorSize)
	if _, err := io.ReadFull(stream, frame); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	hs, err := protocol.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if hs.IsPing() {
		t.Fatal("expected a real manager handshake, got ping")
	}
	if hs.EdgeTarget != "10.0.0.5:9000" {
		t.Fatalf("EdgeTarget = %q, want %q", hs.EdgeTarget, "10.0.0.5:9000")
	}
}

// TestRunHealthProbesRecordsPing proves a live tunnel answering a ping
// stream gets recorded as alive. It drives probeOne, the per-uid probe that
// RunHealthProbes runs on every tick, directly rather than waiting for the
// ticker.
func TestRunHealthProbesRecordsPing(t *testing.T) {
	reg, uid, connectorSideConn := registeredPair(t)
	defer connectorSideConn.CloseWithError(0, "")

	go func() {
		stream, err := connectorSideConn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		frame := make([]byte, protocol.MaxVectorSize)
		if _, err := io.ReadFull(stream, frame); err != nil {
			return
		}
		hs, err := protocol.DecodeFrame(frame)
		if err != nil || !hs.IsPing() {
			return
		}
		stream.Write([]byte{1})
		stream.Close()
	}()

	mon := status.New()
	probeOne(uid, mustLookup(t, reg, uid), mon)

	snap := mon.Get(uid)
	if !snap.Alive {
		t.Fatal("expected uid to be recorded alive after successful probe")
	}
}

func mustLookup(t *testing.T, reg *registry.Registry, uid string) *quic.Conn {
	t.Helper()
	conn, ok := reg.Lookup(uid)
	if !ok {
		t.Fatalf("uid %s not registered", uid)
	}
	return conn
}
