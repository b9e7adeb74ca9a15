// Package fanout implements the proxy-side UDP control and data plane: a
// registry of currently-subscribed listeners, discovery/keepalive handling,
// and fragmented fan-out of audio and metadata to every registered address.
package fanout

import (
	"net"
	"sync"
	"time"

	"github.com/streamrelay/streamrelay/internal/wire"
)

// Client is one registered listener address, tracked by the control plane.
type Client struct {
	Addr        *net.UDPAddr
	LastContact time.Time
}

// key folds an address into the 64-bit registry key used throughout. It
// delegates to wire.FoldAddr so the proxy and client sides always agree on
// the id for a given address.
func key(addr *net.UDPAddr) uint64 {
	return wire.FoldAddr(addr)
}

// Registry is the mutex-protected set of currently-registered listeners plus
// the last metadata string broadcast, so newly-registered clients can be
// brought up to date immediately.
type Registry struct {
	mu        sync.Mutex
	clients   map[uint64]*Client
	lastMeta  string
	hasMeta   bool
	timeout   time.Duration
}

// NewRegistry creates an empty registry; timeout is the inactivity window
// after which a client is evicted if it hasn't sent DISCOVER or KEEPALIVE.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		clients: make(map[uint64]*Client),
		timeout: timeout,
	}
}

// Touch registers addr if new, or refreshes its LastContact if already
// registered. Returns true if this was a new registration.
func (r *Registry) Touch(addr *net.UDPAddr, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(addr)
	c, ok := r.clients[k]
	if !ok {
		r.clients[k] = &Client{Addr: addr, LastContact: now}
		return true
	}
	c.LastContact = now
	return false
}

// Evict removes every client whose LastContact is older than now-timeout. It
// returns the addresses that were evicted, for logging.
func (r *Registry) Evict(now time.Time) []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []*net.UDPAddr
	for k, c := range r.clients {
		if now.Sub(c.LastContact) > r.timeout {
			evicted = append(evicted, c.Addr)
			delete(r.clients, k)
		}
	}
	return evicted
}

// Snapshot returns the current set of registered addresses. The slice is a
// copy safe to range over without holding the lock.
func (r *Registry) Snapshot() []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*net.UDPAddr, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.Addr)
	}
	return out
}

// Size returns the number of currently-registered clients.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// SetLastMeta records the most recent metadata string broadcast, so it can be
// replayed to a client that has just registered.
func (r *Registry) SetLastMeta(meta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMeta = meta
	r.hasMeta = true
}

// LastMeta returns the most recently broadcast metadata string and whether
// one has ever been set.
func (r *Registry) LastMeta() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMeta, r.hasMeta
}
