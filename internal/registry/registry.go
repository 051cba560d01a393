// Package registry owns the live Client table: creation, filter and
// subscription state, and the reaper that frees a Client only after
// every in-flight borrow of it has dropped.
package registry

import (
	"net"
	"sync"

	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"github.com/robot-ai-webapp/gateway/internal/store"
	"go.uber.org/zap"
)

// VariableStore is the subset of *store.Store the registry needs, so
// tests can supply a fake without touching the filesystem.
type VariableStore interface {
	DropClient(sub store.Subscriber)
}

// Registry serializes access to the live client table with a single
// RWMutex and runs one background reaper goroutine.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	store  VariableStore
	logger *zap.Logger

	reapQueue chan *Client
	reapDone  chan struct{}
}

// New returns a Registry wired to vs for subscription cleanup on
// client close.
func New(vs VariableStore, logger *zap.Logger) *Registry {
	return &Registry{
		clients:   make(map[string]*Client),
		store:     vs,
		logger:    logger,
		reapQueue: make(chan *Client, 256),
		reapDone:  make(chan struct{}),
	}
}

// NewClient allocates a Client for a freshly accepted socket and adds
// it to the live set.
func (r *Registry) NewClient(conn net.Conn) *Client {
	c := newClient(conn, r.logger)
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
	return c
}

// Count returns the number of live (not yet reaped) clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Get looks up a client by id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// MarkClosed transitions c to CLOSED and, the first time this
// succeeds for c, enqueues it for the reaper. Safe to call from any
// goroutine (the dispatcher on a kick, the reader loop on a framing
// error, the network engine on shutdown).
func (r *Registry) MarkClosed(c *Client) {
	if c.markClosed() {
		r.reapQueue <- c
	}
}

// ForEachConnected calls fn once for every client currently in
// CONNECTED, holding each client's in-use lock in shared mode for the
// duration of that call. Used by the Notification Router to collect
// filter-matching clients without racing the reaper.
func (r *Registry) ForEachConnected(fn func(*Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		c.inUse.RLock()
		if c.State() == StateConnected {
			fn(c)
		}
		c.inUse.RUnlock()
	}
}

// KickAll marks every live client closed, used during supervisor
// shutdown to unblock every reader task.
func (r *Registry) KickAll(reason string) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		_ = c.SendMessage(protocol.Unsolicited(protocol.NSComm, protocol.VerbKicking, reason))
		r.MarkClosed(c)
	}
}

// StartReaper launches the background reaper goroutine. For each
// closed client it acquires the in-use lock exclusively (waiting out
// any in-flight sender or filter check), drops its variable
// subscriptions, clears its filters, shuts down its socket, and
// removes it from the live table.
func (r *Registry) StartReaper() {
	go func() {
		defer close(r.reapDone)
		for c := range r.reapQueue {
			c.inUse.Lock()
			r.store.DropClient(c)
			c.clearSubscriptions()
			c.ClearFilters()
			_ = c.Close()
			c.inUse.Unlock()

			r.mu.Lock()
			delete(r.clients, c.id)
			r.mu.Unlock()
		}
	}()
}

// StopReaper closes the reap queue and waits for the reaper goroutine
// to drain it. Call only after every client has already been marked
// closed (e.g. after KickAll and joining every reader task).
func (r *Registry) StopReaper() {
	close(r.reapQueue)
	<-r.reapDone
}
