// Package bridge implements the full-duplex byte copy between one QUIC
// bi-stream and one TCP socket (component A of the design). Each direction
// is an independent transfer; the first one to hit EOF or an error ends the
// whole bridge. This is a deliberate simplification (half-close is
// propagated as full close) acceptable for the mTLS tunnel use case.
package bridge

import (
	"io"
	"net"
	"sync"

	quic "github.com/quic-go/quic-go"

	"tunnelbroker/internal/limiter"
	"tunnelbroker/internal/protocol"
)

// Run copies bytes between stream and tcp until one direction ends, then
// tears down the other. rl may be nil, meaning no bandwidth cap.
func Run(stream *quic.Stream, tcp net.Conn, rl *limiter.RateLimiter) {
	var wg sync.WaitGroup
	wg.Add(2)

	var tcpForRead, tcpForWrite net.Conn = tcp, tcp
	if rl != nil {
		tcpForRead = rl.WrapConn(tcp)
		tcpForWrite = tcpForRead
	}

	// tcp -> stream
	go func() {
		defer wg.Done()
		buf := make([]byte, protocol.MaxVectorSize)
		if _, err := io.CopyBuffer(stream, tcpForRead, buf); err != nil {
			stream.CancelWrite(0)
		}
		stream.Close()
		stream.CancelRead(0)
	}()

	// stream -> tcp
	go func() {
		defer wg.Done()
		buf := make([]byte, protocol.MaxVectorSize)
		if _, err := io.CopyBuffer(tcpForWrite, stream, buf); err != nil {
			stream.CancelRead(0)
		}
		tcp.Close()
		stream.CancelRead(0)
	}()

	wg.Wait()
}
