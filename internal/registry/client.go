package registry

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"go.uber.org/zap"
)

// State is a Client's position in its connection lifecycle. It only
// ever progresses UNAUTHENTICATED -> CONNECTED -> CLOSED.
type State int32

const (
	StateUnauthenticated State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Client is one connected socket: its lifecycle state, its
// notification filters, its variable subscriptions, and the locks
// that let multiple goroutines touch it safely.
//
// inUse is held in shared mode while the reader loop dispatches a
// message from this Client (Borrow) and while the router tests its
// filters (Registry.ForEachConnected), and in exclusive mode only by
// the reaper — this lets the reaper wait for those borrows to drop
// before it frees the client, without the network engine ever needing
// to coordinate with the reaper directly. Sends made outside a borrow
// (the router's delivery pass, WATCH pushes, KickAll) do not take it;
// such a send after the reaper has closed the socket returns an error.
type Client struct {
	id          string
	conn        net.Conn
	displayName string
	logger      *zap.Logger

	inUse sync.RWMutex

	stateMu sync.Mutex
	state   State

	sendMu sync.Mutex
	codec  *protocol.Codec

	filterMu sync.Mutex
	filters  []Filter

	subMu         sync.Mutex
	subscriptions map[string]bool
}

// newClient allocates a Client in UNAUTHENTICATED for a freshly
// accepted socket.
func newClient(conn net.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:            uuid.New().String(),
		conn:          conn,
		logger:        logger,
		codec:         protocol.NewCodec(),
		subscriptions: make(map[string]bool),
	}
}

// ClientID implements store.Subscriber.
func (c *Client) ClientID() string { return c.id }

// SetDisplayName records a client-supplied identifier (used for
// diagnostics only; it has no bearing on authentication).
func (c *Client) SetDisplayName(name string) { c.displayName = name }

// DisplayName returns the client-supplied identifier, or its id if
// none was ever set.
func (c *Client) DisplayName() string {
	if c.displayName == "" {
		return c.id
	}
	return c.displayName
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Authenticate transitions UNAUTHENTICATED -> CONNECTED. Returns
// false if the client is not currently UNAUTHENTICATED (state never
// moves backwards).
func (c *Client) Authenticate() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.state = StateConnected
	return true
}

// markClosed transitions to CLOSED. Returns true the first time it is
// called for this client; subsequent calls are no-ops, matching
// MarkClosed's idempotency contract.
func (c *Client) markClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	return true
}

// AddFilter appends a filter under the client's filter lock.
func (c *Client) AddFilter(f Filter) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.filters = append(c.filters, f)
}

// ClearFilters empties the filter list.
func (c *Client) ClearFilters() {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	c.filters = nil
}

// CheckFilters reports whether payload matches any of the client's
// filters. A client with no filters matches nothing.
func (c *Client) CheckFilters(payload string) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	for _, f := range c.filters {
		if f.Matches(payload) {
			return true
		}
	}
	return false
}

// MarkSubscribed and MarkUnsubscribed implement store.Subscriber,
// mirroring the variable's own subscriber-set membership into the
// client's subscription set (the bidirectional-consistency invariant
// in spec.md's data model).
func (c *Client) MarkSubscribed(name string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions[name] = true
}

func (c *Client) MarkUnsubscribed(name string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, name)
}

// clearSubscriptions empties the client's own subscription-set
// bookkeeping; called by the reaper once the client is no longer
// reachable from any variable's subscriber set.
func (c *Client) clearSubscriptions() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions = make(map[string]bool)
}

// Deliver implements store.Subscriber: encode and send msg to this
// client, best-effort. A send failure marks the client closed — the
// caller (Variable Store, Notification Router) never learns of the
// failure directly; it is surfaced the same way any other write
// failure is, through the client's own eventual reap.
func (c *Client) Deliver(msg *protocol.Message) {
	_ = c.SendMessage(msg)
}

// SendMessage encodes msg and writes it to the socket.
func (c *Client) SendMessage(msg *protocol.Message) error {
	buf, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendPacked(buf)
}

// SendPacked writes buf to the socket, serialized by the client's
// send lock. A write the socket cannot take within a short deadline
// fails fast: the hub never buffers on behalf of a slow consumer. A
// failed write marks the client closed.
func (c *Client) SendPacked(buf []byte) error {
	const sendPollTimeout = 10 * time.Millisecond

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.State() == StateClosed {
		return net.ErrClosed
	}

	// The deadline has to lie in the future: Go rejects a write with a
	// timeout error before attempting it once the deadline has passed,
	// so a deadline of exactly now would fail every write.
	if err := c.conn.SetWriteDeadline(time.Now().Add(sendPollTimeout)); err != nil {
		c.markClosed()
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		c.markClosed()
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Time{})
	return nil
}

// Close shuts down the underlying socket. Only the reaper calls this.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying socket for the network engine's reader
// loop to read from directly.
func (c *Client) Conn() net.Conn { return c.conn }

// Borrow holds the in-use lock in shared mode for the duration of fn.
// Any goroutine that dereferences this client's mutable state — the
// reader loop dispatching a message, the router checking filters —
// must go through Borrow so the reaper can wait out every in-flight
// use before it frees the client.
func (c *Client) Borrow(fn func()) {
	c.inUse.RLock()
	defer c.inUse.RUnlock()
	fn()
}
