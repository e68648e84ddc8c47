// Package registry implements the Tunnel Registry (component F): a
// process-wide uid -> live QUIC connection map. Readers (stream openers)
// vastly outnumber writers (registrations), so an RWMutex is used. Eviction
// is lazy: a registration that finds a stale entry overwrites it, dropping
// the old connection.
package registry

import (
	"fmt"
	"sync"

	quic "github.com/quic-go/quic-go"
)

// Registry maps uid to the live QUIC connection that identity authenticated
// over.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*quic.Conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*quic.Conn)}
}

// isLive reports whether conn is still usable: its context has not yet been
// cancelled, which quic-go does the moment the connection's close reason is
// set.
func isLive(conn *quic.Conn) bool {
	select {
	case <-conn.Context().Done():
		return false
	default:
		return true
	}
}

// Register inserts conn under uid. If a live entry already exists for uid,
// registration is rejected and the existing connection is left untouched.
// If a stale (no-longer-live) entry exists, it is silently replaced.
func (r *Registry) Register(uid string, conn *quic.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[uid]; ok && isLive(existing) {
		return fmt.Errorf("connection already exists for uid %q", uid)
	}
	r.conns[uid] = conn
	return nil
}

// Lookup returns the connection registered for uid, if any. It does not
// check liveness: a closed connection stays visible here until Remove or a
// newer registration replaces it. The
// returned connection handle is a cheap copy of the pointer; callers must
// not hold any lock across a subsequent blocking OpenStreamSync call — this
// function already released its lock before returning.
func (r *Registry) Lookup(uid string) (*quic.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[uid]
	if !ok {
		return nil, false
	}
	return conn, true
}

// Remove deletes the entry for uid if it still points at conn (guards
// against removing a newer registration that replaced a stale one).
func (r *Registry) Remove(uid string, conn *quic.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.conns[uid]; ok && existing == conn {
		delete(r.conns, uid)
	}
}

// UIDs returns a snapshot of every uid currently tracked, live or stale.
func (r *Registry) UIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for uid := range r.conns {
		out = append(out, uid)
	}
	return out
}

// Len returns the number of registered entries, used by tests asserting the
// registry size does not grow on rejected registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
