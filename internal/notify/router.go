// Package notify fans a published notification payload out to every
// connected client whose filters match it.
package notify

import (
	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"github.com/robot-ai-webapp/gateway/internal/registry"
	"go.uber.org/zap"
)

// ClientRegistry is the subset of *registry.Registry the router
// needs.
type ClientRegistry interface {
	ForEachConnected(fn func(*registry.Client))
	MarkClosed(c *registry.Client)
}

// Router fans out NOTIFY OUT payloads.
type Router struct {
	registry ClientRegistry
	logger   *zap.Logger
}

// New returns a Router wired to reg.
func New(reg ClientRegistry, logger *zap.Logger) *Router {
	return &Router{registry: reg, logger: logger}
}

// Publish delivers payload as `NOTIFY IN <payload>` to every CONNECTED
// client whose filters match it.
//
// The work happens in two passes, exactly as spec.md requires: first
// collect the matching clients under each client's shared in-use
// lock, then write to them outside that collection pass. A write
// failure marks the client closed; the router treats this as normal
// attrition, not an error worth reporting up.
func (r *Router) Publish(payload string) {
	var matched []*registry.Client
	r.registry.ForEachConnected(func(c *registry.Client) {
		if c.CheckFilters(payload) {
			matched = append(matched, c)
		}
	})

	msg := protocol.Unsolicited(protocol.NSNotify, protocol.VerbIn, payload)
	for _, c := range matched {
		if err := c.SendMessage(msg); err != nil {
			r.registry.MarkClosed(c)
		}
	}
}
