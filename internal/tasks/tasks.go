// Package tasks implements the Listener Task Registry (component G):
// port -> running TCP accept-loop task. Writers are the Control API only,
// so a plain mutex suffices.
package tasks

import (
	"fmt"
	"net"
	"sync"

	"tunnelbroker/internal/limiter"
)

// Entry describes one bound port's accept loop.
type Entry struct {
	UID            string
	ConnectAddress string
	ConnectPort    int
	RateLimitBPS   int64
	Limiter        *limiter.RateLimiter // shared with the Manager Accept Loop bridging this port

	listener net.Listener
	cancel   func()
}

// Registry tracks the bound ports currently owned by the Control API.
type Registry struct {
	mu    sync.Mutex
	ports map[int]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{ports: make(map[int]*Entry)}
}

// Insert records a bound listener and its accept-loop cancel function under
// port. Callers must have already bound the socket; Insert itself never
// binds. Returns an error if port is already registered.
func (r *Registry) Insert(port int, e *Entry, ln net.Listener, cancel func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[port]; exists {
		return fmt.Errorf("port %d already bound", port)
	}
	e.listener = ln
	e.cancel = cancel
	r.ports[port] = e
	return nil
}

// Remove aborts the accept loop for port and releases its socket. Reports
// whether an entry was present.
func (r *Registry) Remove(port int) bool {
	r.mu.Lock()
	e, ok := r.ports[port]
	if ok {
		delete(r.ports, port)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.listener != nil {
		e.listener.Close()
	}
	return true
}

// Get returns the entry for port, if any.
func (r *Registry) Get(port int) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ports[port]
	return e, ok
}

// EntriesForUID returns every bound-port entry currently serving uid, used
// by GET /status to report bandwidth usage alongside health.
func (r *Registry) EntriesForUID(uid string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, e := range r.ports {
		if e.UID == uid {
			out = append(out, e)
		}
	}
	return out
}

// ListItem is the flattened shape GET /list and GET /status report.
type ListItem struct {
	Port           int
	UID            string
	ConnectAddress string
	ConnectPort    int
	RateLimitBPS   int64
}

// List returns every currently bound port. Order is unspecified, matching
// the spec.
func (r *Registry) List() []ListItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ListItem, 0, len(r.ports))
	for port, e := range r.ports {
		out = append(out, ListItem{
			Port:           port,
			UID:            e.UID,
			ConnectAddress: e.ConnectAddress,
			ConnectPort:    e.ConnectPort,
			RateLimitBPS:   e.RateLimitBPS,
		})
	}
	return out
}
