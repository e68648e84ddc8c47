// Package manager implements the Manager Accept Loop (component I): one
// loop per bound port, bridging each accepted TCP connection to a fresh
// bi-stream on the tunnel's QUIC connection. It also runs the supplementary
// health-probe loop that keeps GET /status fresh.
package manager

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"

	"tunnelbroker/internal/bridge"
	"tunnelbroker/internal/limiter"
	"tunnelbroker/internal/logging"
	"tunnelbroker/internal/protocol"
	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
)

// Serve runs the accept loop for one bound port: every accepted TCP
// connection becomes one bi-stream bridged to uid's QUIC connection, with
// edgeAddr:edgePort as the handshake's edge target for the Connector to
// dial. rl is the bandwidth limiter shared with the Control API's /status
// reporting; it must be non-nil (limiter.New tolerates a zero/negative rate
// as "unlimited"). It returns when ln.Accept fails, which happens once the
// Listener Task Registry closes ln on /close.
func Serve(ctx context.Context, ln net.Listener, reg *registry.Registry, uid, edgeAddr string, edgePort int, rl *limiter.RateLimiter) {
	var streamIndex atomic.Int64
	edgeTarget := fmt.Sprintf("%s:%d", edgeAddr, edgePort)

	for {
		tcpConn, err := ln.Accept()
		if err != nil {
			logging.Infof("manager[uid=%s]: accept loop ending: %v", uid, err)
			return
		}

		conn, ok := reg.Lookup(uid)
		if !ok {
			logging.Warnf("manager[uid=%s]: no live tunnel, dropping connection from %s", uid, tcpConn.RemoteAddr())
			tcpConn.Close()
			continue
		}

		idx := streamIndex.Add(1)
		if err := bridgeOne(ctx, conn, tcpConn, uid, edgeTarget, idx, rl); err != nil {
			logging.Warnf("manager[uid=%s]: %v", uid, err)
			tcpConn.Close()
			continue
		}
	}
}

// bridgeOne opens one bi-stream, sends its handshake frame naming
// edgeTarget as the host:port the Connector should dial, and spawns the
// byte bridge. Failure at either step discards the manager socket; the
// accept loop continues regardless.
func bridgeOne(ctx context.Context, conn *quic.Conn, tcpConn net.Conn, uid, edgeTarget string, streamIndex int64, rl *limiter.RateLimiter) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	streamID := fmt.Sprintf("%s-%d", uid, streamIndex)
	if err := protocol.WriteFrame(stream, protocol.Handshake{
		StreamID:   streamID,
		EdgeTarget: edgeTarget,
	}); err != nil {
		stream.CancelWrite(1)
		return fmt.Errorf("send handshake: %w", err)
	}

	go bridge.Run(stream, tcpConn, rl)
	return nil
}

// HealthProbeInterval is how often each registered uid's tunnel is probed.
const HealthProbeInterval = 15 * time.Second

const probeTimeout = 5 * time.Second

// RunHealthProbes periodically opens a ping bi-stream against every live
// tunnel and records the round trip in mon, until ctx is cancelled. This is
// the Listener-side half of the health-probe supplement; the Connector
// side is the ping responder in the session package.
func RunHealthProbes(ctx context.Context, reg *registry.Registry, mon *status.Monitor) {
	ticker := time.NewTicker(HealthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, uid := range reg.UIDs() {
				conn, ok := reg.Lookup(uid)
				if !ok {
					continue
				}
				go probeOne(uid, conn, mon)
			}
		}
	}
}

func probeOne(uid string, conn *quic.Conn, mon *status.Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	start := time.Now()
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		logging.Debugf("manager[uid=%s]: health probe open stream failed: %v", uid, err)
		mon.RecordFailure(uid, err)
		return
	}
	defer stream.Close()

	if err := protocol.WriteFrame(stream, protocol.Handshake{
		StreamID:   uid + "-ping",
		EdgeTarget: protocol.PingTarget,
	}); err != nil {
		logging.Debugf("manager[uid=%s]: health probe handshake failed: %v", uid, err)
		mon.RecordFailure(uid, err)
		return
	}

	ack := make([]byte, 1)
	stream.SetReadDeadline(time.Now().Add(probeTimeout))
	if _, err := stream.Read(ack); err != nil {
		logging.Debugf("manager[uid=%s]: health probe ack read failed: %v", uid, err)
		mon.RecordFailure(uid, err)
		return
	}
	mon.RecordPing(uid, time.Since(start))
}
