// Package dispatch classifies an inbound message by its namespace
// and routes it to the matching handler, enforcing the
// authentication gate described in spec.md's Dispatcher component.
package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robot-ai-webapp/gateway/internal/audit"
	"github.com/robot-ai-webapp/gateway/internal/logsink"
	"github.com/robot-ai-webapp/gateway/internal/notify"
	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"github.com/robot-ai-webapp/gateway/internal/registry"
	"github.com/robot-ai-webapp/gateway/internal/store"
	"go.uber.org/zap"
)

// VariableStore is the subset of *store.Store the dispatcher needs.
type VariableStore interface {
	Get(name string) (value float64, readOnly bool, ok bool)
	Set(name string, value float64) store.SetResult
	Subscribe(sub store.Subscriber, name string) bool
	Unsubscribe(sub store.Subscriber, name string) store.UnsubscribeResult
}

// ClientRegistry is the subset of *registry.Registry the dispatcher
// needs.
type ClientRegistry interface {
	MarkClosed(c *registry.Client)
}

// Dispatcher holds everything a handler needs to reply, mutate
// shared state, or kick a client.
type Dispatcher struct {
	password string
	store    VariableStore
	registry ClientRegistry
	router   *notify.Router
	logSink  *logsink.Sink
	audit    audit.Publisher
	logger   *zap.Logger
}

// New returns a Dispatcher. An empty password means authentication is
// refused outright: spec.md requires refusing AUTH with no configured
// password rather than silently accepting everyone.
func New(password string, vs VariableStore, reg ClientRegistry, router *notify.Router, logSink *logsink.Sink, auditPub audit.Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		password: password,
		store:    vs,
		registry: reg,
		router:   router,
		logSink:  logSink,
		audit:    auditPub,
		logger:   logger,
	}
}

// Handle runs the full dispatch state machine for one inbound
// message from c.
func (d *Dispatcher) Handle(c *registry.Client, msg *protocol.Message) {
	if len(msg.Components) == 0 {
		d.kick(c, "Illegal message")
		return
	}

	if msg.Namespace() == protocol.NSComm {
		d.handleComm(c, msg)
		return
	}

	if c.State() != registry.StateConnected {
		d.kick(c, "Unauthenticated request")
		return
	}

	switch msg.Namespace() {
	case protocol.NSNotify:
		d.handleNotify(c, msg)
	case protocol.NSVar:
		d.handleVar(c, msg)
	case protocol.NSWatch:
		d.handleWatch(c, msg)
	case protocol.NSLog:
		d.handleLog(c, msg)
	default:
		d.kick(c, "Illegal message")
	}
}

func (d *Dispatcher) handleComm(c *registry.Client, msg *protocol.Message) {
	switch msg.Verb() {
	case protocol.VerbAuth:
		if d.password == "" {
			d.logger.Error("AUTH attempted with no password configured; refusing")
			_ = c.SendMessage(protocol.Reply(msg.RequestID, protocol.NSComm, protocol.VerbFailure))
			d.kick(c, "Authentication failure")
			return
		}
		if msg.Arg(0) == d.password {
			c.Authenticate()
			_ = c.SendMessage(protocol.Reply(msg.RequestID, protocol.NSComm, protocol.VerbSuccess))
			return
		}
		_ = c.SendMessage(protocol.Reply(msg.RequestID, protocol.NSComm, protocol.VerbFailure))
		d.audit.Publish(audit.Event{Kind: "auth_failure", ClientID: c.ClientID(), Timestamp: time.Now()})
		d.kick(c, "Authentication failure")

	case protocol.VerbShutdown:
		_ = c.SendMessage(protocol.Reply(msg.RequestID, protocol.NSComm, protocol.VerbClosing))
		d.registry.MarkClosed(c)

	default:
		d.kick(c, "Illegal message")
	}
}

func (d *Dispatcher) handleNotify(c *registry.Client, msg *protocol.Message) {
	switch msg.Verb() {
	case protocol.VerbOut:
		d.router.Publish(msg.Arg(0))

	case protocol.VerbAddFilter:
		typeNum, err := strconv.Atoi(msg.Arg(0))
		if err != nil {
			d.kick(c, "Illegal message")
			return
		}
		ft := registry.FilterType(typeNum)
		if ft != registry.FilterMatch && ft != registry.FilterAction && ft != registry.FilterPrefix {
			d.kick(c, "Illegal message")
			return
		}
		c.AddFilter(registry.Filter{Type: ft, Body: msg.Arg(1)})

	case protocol.VerbClearFilters:
		c.ClearFilters()

	default:
		d.kick(c, "Illegal message")
	}
}

func (d *Dispatcher) handleVar(c *registry.Client, msg *protocol.Message) {
	switch msg.Verb() {
	case protocol.VerbGet:
		name := msg.Arg(0)
		value, readOnly, ok := d.store.Get(name)
		if !ok {
			d.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
			return
		}
		flag := "RW"
		if readOnly {
			flag = "RO"
		}
		_ = c.SendMessage(protocol.Reply(msg.RequestID, protocol.NSVar, protocol.VerbValue, flag, fmt.Sprintf("%f", value)))

	case protocol.VerbSet:
		name := msg.Arg(0)
		value, err := strconv.ParseFloat(msg.Arg(1), 64)
		if err != nil {
			d.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
			return
		}
		switch d.store.Set(name, value) {
		case store.SetOk:
			// Every successful write is reported as persistent_set,
			// whether or not the variable is persistent.
			d.audit.Publish(audit.Event{
				Kind: "persistent_set", ClientID: c.ClientID(),
				Variable: name, Value: value, Timestamp: time.Now(),
			})
		default:
			d.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		}

	default:
		d.kick(c, "Illegal message")
	}
}

func (d *Dispatcher) handleWatch(c *registry.Client, msg *protocol.Message) {
	name := msg.Arg(0)
	switch msg.Verb() {
	case protocol.VerbAdd:
		if !d.store.Subscribe(c, name) {
			d.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		}

	case protocol.VerbDel:
		if d.store.Unsubscribe(c, name) == store.UnsubNotFound {
			d.kick(c, fmt.Sprintf("Invalid variable access (%s)", name))
		}

	default:
		d.kick(c, "Illegal message")
	}
}

func (d *Dispatcher) handleLog(c *registry.Client, msg *protocol.Message) {
	app := msg.Arg(0)
	level, err := strconv.Atoi(msg.Arg(1))
	if err != nil {
		d.kick(c, "Illegal message")
		return
	}
	d.logSink.Append(app, level, msg.Arg(2))
}

// kick sends a best-effort KICKING reply then marks the client
// closed. The write is allowed to fail silently: a client too dead to
// receive its own kick reason is still reaped the same way.
func (d *Dispatcher) kick(c *registry.Client, reason string) {
	_ = c.SendMessage(protocol.Unsolicited(protocol.NSComm, protocol.VerbKicking, reason))
	d.audit.Publish(audit.Event{Kind: "kick", ClientID: c.ClientID(), Reason: reason, Timestamp: time.Now()})
	d.registry.MarkClosed(c)
}
