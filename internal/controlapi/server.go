// Package controlapi implements the Control API (component H): the HTTP
// surface operators use to open, close, and list bridged ports, plus the
// supplementary GET /status endpoint.
package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"tunnelbroker/internal/config"
	"tunnelbroker/internal/limiter"
	"tunnelbroker/internal/manager"
	"tunnelbroker/internal/registry"
	"tunnelbroker/internal/status"
	"tunnelbroker/internal/tasks"
)

// Server is the Control API's HTTP surface. Construct with NewServer, then
// Start it.
type Server struct {
	addr    string
	reg     *registry.Registry
	tasks   *tasks.Registry
	status  *status.Monitor
	limits  *config.LimitsConfig
	httpSrv *http.Server
	ln      net.Listener
}

// NewServer returns a Server that will listen on addr once started.
func NewServer(addr string, reg *registry.Registry, taskReg *tasks.Registry, statusMon *status.Monitor, limits *config.LimitsConfig) *Server {
	return &Server{addr: addr, reg: reg, tasks: taskReg, status: statusMon, limits: limits}
}

// Start binds the listening socket and begins serving in the background.
// It returns once the socket is bound, or the bind error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/open", s.handleOpen)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/status", s.handleStatus)

	h := &http.Server{Addr: s.addr, Handler: mux}
	s.httpSrv = h

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control api: listen %s: %w", s.addr, err)
	}
	s.ln = ln

	go func() {
		if err := h.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("control api: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listening address. Valid only after Start.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the Control API with a bounded timeout.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

type openRequest struct {
	UID            string `json:"uid"`
	Port           int    `json:"port"`
	ConnectAddress string `json:"connect_address"`
	ConnectPort    int    `json:"connect_port"`
	RateLimitBPS   int64  `json:"rate_limit_bps,omitempty"`
}

type closeRequest struct {
	Port int `json:"port"`
}

type listItemDTO struct {
	Port           int    `json:"port"`
	UID            string `json:"uid"`
	ConnectAddress string `json:"connect_address"`
	ConnectPort    int    `json:"connect_port"`
}

type statusDTO struct {
	UID           string `json:"uid"`
	Alive         bool   `json:"alive"`
	LastSeenMs    int64  `json:"last_seen_ms"`
	LastPingMs    int64  `json:"last_ping_ms"`
	ActiveStreams int    `json:"active_streams"`
	ActiveRateBPS int64  `json:"active_rate_bps"`
	MaxRateBPS    int64  `json:"max_rate_bps"`
}

// writeText writes a plain-text body, matching original_source/sw_listener's
// apis.rs HttpResponse::body("...") responses for /open and /close: those
// endpoints carry a bare human-readable message, not a JSON envelope.
func writeText(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, format, args...)
}

// handleOpen binds a new public port and spawns its Manager Accept Loop.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "malformed request body: %v", err)
		return
	}

	if _, ok := s.reg.Lookup(req.UID); !ok {
		writeText(w, http.StatusInternalServerError, "No QUIC connection exists for the specified UID.")
		return
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", req.Port))
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Failed to create TcpListener: %v", err)
		return
	}

	rateLimitBPS := req.RateLimitBPS
	if rateLimitBPS == 0 {
		rateLimitBPS = s.limits.RateLimitFor(req.UID)
	}
	rl := limiter.New(rateLimitBPS)

	ctx, cancel := context.WithCancel(context.Background())
	entry := &tasks.Entry{
		UID:            req.UID,
		ConnectAddress: req.ConnectAddress,
		ConnectPort:    req.ConnectPort,
		RateLimitBPS:   rateLimitBPS,
		Limiter:        rl,
	}
	if err := s.tasks.Insert(req.Port, entry, ln, cancel); err != nil {
		cancel()
		ln.Close()
		writeText(w, http.StatusInternalServerError, "Failed to create TcpListener: %v", err)
		return
	}

	go manager.Serve(ctx, ln, s.reg, req.UID, req.ConnectAddress, req.ConnectPort, rl)

	writeText(w, http.StatusOK, "TcpListener created successfully!")
}

// handleClose aborts a bound port's accept loop.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "malformed request body: %v", err)
		return
	}

	if !s.tasks.Remove(req.Port) {
		writeText(w, http.StatusNotFound, "Task %d not found", req.Port)
		return
	}

	writeText(w, http.StatusOK, "Task %d canceled", req.Port)
}

// handleList reports every currently bound port.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	items := s.tasks.List()
	out := make([]listItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, listItemDTO{
			Port:           it.Port,
			UID:            it.UID,
			ConnectAddress: it.ConnectAddress,
			ConnectPort:    it.ConnectPort,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleStatus reports per-uid health probe state, a supplement to the
// spec's core /open, /close, /list contract.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	streamCounts := make(map[string]int)
	for _, it := range s.tasks.List() {
		streamCounts[it.UID]++
	}

	uids := s.reg.UIDs()
	out := make([]statusDTO, 0, len(uids))
	for _, uid := range uids {
		snap := s.status.Get(uid)
		var activeRate, maxRate int64
		for _, e := range s.tasks.EntriesForUID(uid) {
			if e.Limiter == nil {
				continue
			}
			activeRate += e.Limiter.GetActiveRate()
			maxRate += e.Limiter.MaxRate()
		}
		out = append(out, statusDTO{
			UID:           uid,
			Alive:         snap.Alive,
			LastSeenMs:    snap.LastSeenMs,
			LastPingMs:    snap.LastPingMs,
			ActiveStreams: streamCounts[uid],
			ActiveRateBPS: activeRate,
			MaxRateBPS:    maxRate,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
