// Command listener runs the public-facing half of the tunnel broker: it
// terminates mTLS QUIC connections from Connectors, verifies their
// identity, and exposes the Control API that opens and closes bridged
// ports.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tunnelbroker/internal/acceptor"
	"tunnelbroker/internal/certutil"
	"tunnelbroker/internal/config"
	"tunnelbroker/internal/controlapi"
	"tunnelbroker/internal/logging"
	"tunnelbroker/internal/manager"
	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
	"tunnelbroker/internal/tasks"
	"tunnelbroker/internal/transport"
	"tunnelbroker/internal/verifier"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadListenerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "listener: config error: %v\n", err)
		return 1
	}

	limits, err := config.LoadLimitsConfig(cfg.LimitsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listener: limits config error: %v\n", err)
		return 1
	}
	logging.Configure(limits.Log)
	level := logging.ParseLevel(cfg.LogLevel)
	logging.SetLevel(level)
	log.Printf("listener: starting at log level %v", level)

	cert, err := certutil.LoadKeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		log.Printf("listener: %v", err)
		return 1
	}
	caPool, err := certutil.LoadCAPool(cfg.CAPath)
	if err != nil {
		log.Printf("listener: %v", err)
		return 1
	}

	reg := registry.New()
	taskReg := tasks.New()
	statusMon := status.New()
	v := verifier.New(cfg.SCEPURL)

	serverTLS := transport.ServerTLSConfig(cert, caPool)
	acc := acceptor.New(serverTLS, v, reg, statusMon)

	apiAddr := fmt.Sprintf("%s:%d", cfg.APIsAddrs, cfg.APIsPort)
	api := controlapi.NewServer(apiAddr, reg, taskReg, statusMon, limits)
	if err := api.Start(); err != nil {
		log.Printf("listener: %v", err)
		return 1
	}
	log.Printf("listener: control api on %s", apiAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go manager.RunHealthProbes(ctx, reg, statusMon)

	quicAddr := fmt.Sprintf("%s:%d", cfg.Addrs, cfg.Port)
	serveErrCh := make(chan error, 1)
	go func() {
		log.Printf("listener: quic acceptor on %s", quicAddr)
		serveErrCh <- acc.Serve(ctx, quicAddr)
	}()

	select {
	case <-ctx.Done():
		log.Printf("listener: shutting down")
	case err := <-serveErrCh:
		if err != nil {
			log.Printf("listener: quic acceptor failed: %v", err)
			api.Stop()
			return 1
		}
	}

	api.Stop()
	return 0
}
