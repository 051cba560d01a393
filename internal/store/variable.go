// Package store holds the hub's typed variable table: current
// values, default values, persistence and read-only flags, and the
// set of clients subscribed to each variable's updates.
package store

import (
	"fmt"
	"sync"

	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"go.uber.org/zap"
)

// Subscriber is the Variable Store's view of a client: just enough to
// deliver a WATCH push and to keep the bidirectional subscription
// invariant without the store owning a Client type. Implemented by
// internal/registry.Client.
type Subscriber interface {
	ClientID() string
	Deliver(msg *protocol.Message)
	MarkSubscribed(name string)
	MarkUnsubscribed(name string)
}

// SetResult is the outcome of a Set call.
type SetResult int

const (
	SetOk SetResult = iota
	SetNotFound
	SetReadOnly
)

// Variable is one entry in the table: a name, its current and
// default value, persistence/read-only flags, and the set of clients
// that get a WATCH push whenever it changes.
type Variable struct {
	mu          sync.RWMutex
	name        string
	value       float64
	defaultVal  float64
	persistent  bool
	readOnly    bool
	subscribers map[string]Subscriber
}

// Store is the fixed-at-startup variable table plus the asynchronous
// flush machinery for persistent variables. The variable set never
// changes after Load: no dynamic add/remove.
type Store struct {
	logger *zap.Logger

	vars   map[string]*Variable // fixed after Load; never mutated, so unguarded reads are safe
	dbPath string

	flusher *flusher
}

// New returns an empty Store. Call LoadSchema then LoadPersistent
// before serving any client.
func New(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		vars:   make(map[string]*Variable),
	}
}

// Get returns the current value and read-only flag of name.
func (s *Store) Get(name string) (value float64, readOnly bool, ok bool) {
	v, ok := s.vars[name]
	if !ok {
		return 0, false, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.readOnly, true
}

// Set applies a write, then fans out a WATCH push to every subscriber
// observed at the moment the write lock is released. A client
// subscribing concurrently with this call is not guaranteed to be
// included or excluded — only the snapshot taken under the write lock
// governs delivery for this write.
func (s *Store) Set(name string, value float64) SetResult {
	v, ok := s.vars[name]
	if !ok {
		return SetNotFound
	}

	v.mu.Lock()
	if v.readOnly {
		v.mu.Unlock()
		return SetReadOnly
	}
	v.value = value
	persistent := v.persistent
	subs := make([]Subscriber, 0, len(v.subscribers))
	for _, sub := range v.subscribers {
		subs = append(subs, sub)
	}
	v.mu.Unlock()

	if persistent && s.flusher != nil {
		s.flusher.requestFlush()
	}

	payload := fmt.Sprintf("%f", value)
	for _, sub := range subs {
		sub.Deliver(protocol.Unsolicited(protocol.NSWatch, name, payload))
	}
	return SetOk
}

// Subscribe adds sub to name's subscriber set and mirrors the
// subscription into sub's own bookkeeping. Idempotent.
func (s *Store) Subscribe(sub Subscriber, name string) bool {
	v, ok := s.vars[name]
	if !ok {
		return false
	}
	v.mu.Lock()
	v.subscribers[sub.ClientID()] = sub
	v.mu.Unlock()
	sub.MarkSubscribed(name)
	return true
}

// UnsubscribeResult is the outcome of an Unsubscribe call.
type UnsubscribeResult int

const (
	UnsubOk UnsubscribeResult = iota
	UnsubNotFound
	UnsubNotSubscribed
)

// Unsubscribe removes sub from name's subscriber set.
func (s *Store) Unsubscribe(sub Subscriber, name string) UnsubscribeResult {
	v, ok := s.vars[name]
	if !ok {
		return UnsubNotFound
	}
	v.mu.Lock()
	_, had := v.subscribers[sub.ClientID()]
	delete(v.subscribers, sub.ClientID())
	v.mu.Unlock()
	if !had {
		return UnsubNotSubscribed
	}
	sub.MarkUnsubscribed(name)
	return UnsubOk
}

// DropClient removes sub from every variable's subscriber set. Called
// exactly once, by the reaper, during client close.
func (s *Store) DropClient(sub Subscriber) {
	for _, v := range s.vars {
		v.mu.Lock()
		delete(v.subscribers, sub.ClientID())
		v.mu.Unlock()
	}
}

// Names returns every variable name, for snapshot/diagnostic use.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	return names
}

// Count returns the number of variables in the table.
func (s *Store) Count() int {
	return len(s.vars)
}
