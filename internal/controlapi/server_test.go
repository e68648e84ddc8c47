package controlapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	quic "github.com/quic-go/quic-go"

	"tunnelbroker/internal/certutil"
	"tunnelbroker/internal/config"
	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
	"tunnelbroker/internal/tasks"
)

// registerLiveTunnel sets up a real QUIC connection pair and registers the
// listener-side handle under uid, so handleOpen's registry lookup succeeds.
func registerLiveTunnel(t *testing.T, reg *registry.Registry, uid string) (cleanup func()) {
	t.Helper()
	cert, err := certutil.GenerateSelfSigned("controlapi-test")
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"controlapi-test"}}
	clientTLS := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"controlapi-test"}}

	ln, err := quic.ListenAddr("127.0.0.1:0", serverTLS, nil)
	if err != nil {
		t.Fatalf("ListenAddr: %v", err)
	}
	acceptedCh := make(chan *quic.Conn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		if err == nil {
			acceptedCh <- conn
		}
	}()
	clientConn, err := quic.DialAddr(context.Background(), ln.Addr().String(), clientTLS, nil)
	if err != nil {
		t.Fatalf("DialAddr: %v", err)
	}
	<-acceptedCh

	if err := reg.Register(uid, clientConn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return func() {
		clientConn.CloseWithError(0, "")
		ln.Close()
	}
}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *tasks.Registry) {
	t.Helper()
	reg := registry.New()
	taskReg := tasks.New()
	statusMon := status.New()
	srv := NewServer("127.0.0.1:0", reg, taskReg, statusMon, &config.LimitsConfig{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, reg, taskReg
}

func TestOpenCloseListRoundTrip(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	cleanup := registerLiveTunnel(t, reg, "u1")
	defer cleanup()

	freePort := freeTCPPort(t)
	openBody, _ := json.Marshal(openRequest{UID: "u1", Port: freePort, ConnectAddress: "127.0.0.1", ConnectPort: 1})

	resp, err := http.Post(fmt.Sprintf("http://%s/open", srv.Addr()), "application/json", bytes.NewReader(openBody))
	if err != nil {
		t.Fatalf("POST /open: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /open status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(fmt.Sprintf("http://%s/list", srv.Addr()))
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	var items []listItemDTO
	json.NewDecoder(listResp.Body).Decode(&items)
	listResp.Body.Close()
	if len(items) != 1 || items[0].Port != freePort {
		t.Fatalf("unexpected list contents: %+v", items)
	}

	closeBody, _ := json.Marshal(closeRequest{Port: freePort})
	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/close", srv.Addr()), bytes.NewReader(closeBody))
	closeResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /close: %v", err)
	}
	if closeResp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /close status = %d", closeResp.StatusCode)
	}
	closeResp.Body.Close()

	req2, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/close", srv.Addr()), bytes.NewReader(closeBody))
	closeResp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("DELETE /close (again): %v", err)
	}
	if closeResp2.StatusCode != http.StatusNotFound {
		t.Fatalf("second DELETE /close status = %d, want 404", closeResp2.StatusCode)
	}
	closeResp2.Body.Close()
}

func TestOpenRejectsUnknownUID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(openRequest{UID: "ghost", Port: freeTCPPort(t), ConnectAddress: "127.0.0.1", ConnectPort: 1})
	resp, err := http.Post(fmt.Sprintf("http://%s/open", srv.Addr()), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /open: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(b), "No QUIC connection") {
		t.Fatalf("body = %q, want it to contain %q", b, "No QUIC connection")
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
