// Command connector runs the private-facing half of the tunnel broker: it
// dials a Listener over mTLS QUIC and services whatever bi-streams the
// Listener opens against it, bridging them to local or internal TCP
// services.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunnelbroker/internal/certutil"
	"tunnelbroker/internal/config"
	"tunnelbroker/internal/logging"
	"tunnelbroker/internal/session"
	"tunnelbroker/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the connector settings JSON file")
	limitsPath := flag.String("limits", "", "path to an optional limits/log-rotation YAML file")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "connector: -config is required")
		return 1
	}

	settings, err := config.LoadConnectorSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connector: config error: %v\n", err)
		return 1
	}

	limits, err := config.LoadLimitsConfig(*limitsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connector: limits config error: %v\n", err)
		return 1
	}
	logging.Configure(limits.Log)

	cert, err := certutil.LoadKeyPair(settings.ClientCertPath, settings.ClientKeyPath)
	if err != nil {
		log.Printf("connector: %v", err)
		return 1
	}
	caPool, err := certutil.LoadCAPool(settings.CACertPath)
	if err != nil {
		log.Printf("connector: %v", err)
		return 1
	}

	clientTLS := transport.ClientTLSConfig(cert, caPool, settings.ServerName)
	addr := fmt.Sprintf("%s:%d", settings.ServerName, settings.ServicePort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSessionLoop(ctx, clientTLS, addr)
}

const reconnectBackoff = 3 * time.Second

// runSessionLoop dials and services the Listener, reconnecting on any
// session failure until ctx is cancelled.
func runSessionLoop(ctx context.Context, tlsConfig *tls.Config, addr string) int {
	for {
		if ctx.Err() != nil {
			return 0
		}

		log.Printf("connector: dialing %s", addr)
		sess := session.New(tlsConfig, addr)
		if err := sess.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return 0
			}
			log.Printf("connector: session ended: %v, reconnecting in %s", err, reconnectBackoff)
		}

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(reconnectBackoff):
		}
	}
}
