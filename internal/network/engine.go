// Package network owns the TCP listener: accepting connections,
// admission control, and the per-client read loop that feeds decoded
// messages to the dispatcher.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"github.com/robot-ai-webapp/gateway/internal/registry"
	"go.uber.org/zap"
)

// Dispatcher is the subset of *dispatch.Dispatcher the engine needs.
type Dispatcher interface {
	Handle(c *registry.Client, msg *protocol.Message)
}

// Engine owns the listening socket and one reader goroutine per
// connected client. It never holds the client registry's locks while
// blocked on socket I/O.
type Engine struct {
	registry        *registry.Registry
	dispatcher      Dispatcher
	limiter         *AdmissionLimiter
	maxClients      int
	readIdleTimeout time.Duration
	logger          *zap.Logger

	listener net.Listener
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// NewEngine builds an Engine. maxClients <= 0 means unbounded.
// readIdleTimeout <= 0 means reads never time out on their own (the
// connection only ends on a framing error or an engine-initiated
// close).
func NewEngine(reg *registry.Registry, dispatcher Dispatcher, limiter *AdmissionLimiter, maxClients int, readIdleTimeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		registry:        reg,
		dispatcher:      dispatcher,
		limiter:         limiter,
		maxClients:      maxClients,
		readIdleTimeout: readIdleTimeout,
		logger:          logger,
	}
}

// ListenAndServe binds bindAddr:bindPort and runs the accept loop
// until Shutdown is called. It blocks until the listener closes.
func (e *Engine) ListenAndServe(bindAddr string, bindPort int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, bindPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	e.listener = ln
	e.logger.Info("network engine listening", zap.String("addr", ln.Addr().String()))
	e.acceptLoop()
	return nil
}

// Shutdown stops accepting new connections and closes the listener.
// Already-accepted clients are unaffected; the caller is responsible
// for kicking them (registry.KickAll) and joining their reader tasks
// (Wait) separately.
func (e *Engine) Shutdown() {
	e.stopping.Store(true)
	if e.listener != nil {
		_ = e.listener.Close()
	}
}

// Wait blocks until every reader goroutine spawned by the accept loop
// has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) acceptLoop() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.stopping.Load() {
				return
			}
			e.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		remoteIP := hostOf(conn.RemoteAddr())
		if e.limiter != nil && !e.limiter.Allow(remoteIP) {
			e.logger.Warn("connection rejected by admission limiter", zap.String("remote_ip", remoteIP))
			_ = conn.Close()
			continue
		}
		if e.maxClients > 0 && e.registry.Count() >= e.maxClients {
			e.logger.Warn("connection rejected, hub at capacity", zap.Int("max_clients", e.maxClients))
			_ = conn.Close()
			continue
		}

		c := e.registry.NewClient(conn)
		e.wg.Add(1)
		go e.readLoop(c)
	}
}

// readLoop decodes messages off c's socket and hands each to the
// dispatcher, borrowed under the client's in-use lock so the reaper
// can never free c out from under a dispatch call in flight. An idle
// read timeout is retried while the engine is not stopping; any other
// decode failure marks the client closed. It returns, without
// re-closing anything itself, after such a failure or once the client
// reaches CLOSED — the registry's reaper owns actually tearing the
// client down.
func (e *Engine) readLoop(c *registry.Client) {
	defer e.wg.Done()
	conn := c.Conn()
	codec := protocol.NewCodec()

	for {
		if c.State() == registry.StateClosed {
			return
		}

		if e.readIdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(e.readIdleTimeout))
		}

		msg, err := codec.Decode(conn)
		if err != nil {
			if isTimeout(err) && !e.stopping.Load() {
				continue
			}
			e.registry.MarkClosed(c)
			return
		}

		c.Borrow(func() {
			e.dispatcher.Handle(c, msg)
		})
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
