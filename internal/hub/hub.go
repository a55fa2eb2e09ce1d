// ABOUTME: Gateway-side handlers for every agent-originated message.
// ABOUTME: Translates wire payloads into registry updates and bridge reply deliveries.

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/relay-gateway/internal/bridge"
	"github.com/2389/relay-gateway/internal/registry"
	"github.com/2389/relay-gateway/internal/transport"
	"github.com/2389/relay-gateway/internal/wire"
)

// ErrMissingAgentID is returned by handlers when a payload lacks an agent id.
var ErrMissingAgentID = errors.New("agent_id is required")

// Endpoint routes inbound agent messages to the registry and the bridge.
type Endpoint struct {
	registry *registry.Registry
	bridge   *bridge.Bridge
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Endpoint.
func New(reg *registry.Registry, br *bridge.Bridge, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		registry: reg,
		bridge:   br,
		logger:   logger.With("component", "hub"),
		now:      time.Now,
	}
}

// Attach registers the endpoint's handlers and lifecycle hooks on srv.
func (e *Endpoint) Attach(srv *transport.Server) {
	srv.Handle(wire.RegisterAgent, e.registerAgent)
	srv.Handle(wire.RegisterResources, e.registerResources)
	srv.Handle(wire.PushResourceUpdate, e.pushResourceUpdate)
	srv.Handle(wire.ProvideResourceDetails, e.deliverReply)
	srv.Handle(wire.SaveCompleted, e.deliverReply)

	srv.OnConnect(e.connected)
	srv.OnDisconnect(e.disconnected)
}

func (e *Endpoint) registerAgent(_ context.Context, msg transport.Message) error {
	var info wire.AgentInfo
	if err := msg.Decode(&info); err != nil {
		return err
	}
	if strings.TrimSpace(info.AgentID) == "" {
		return fmt.Errorf("%s: %w", msg.Name, ErrMissingAgentID)
	}

	lastSeen := info.LastSeen
	if lastSeen.IsZero() {
		lastSeen = e.now()
	}

	if !e.bridge.OnRegistered(info.AgentID, msg.Conn) {
		return nil
	}
	e.registry.UpsertAgent(info.AgentID, info.Name, lastSeen)

	e.logger.Info("agent registered",
		"agent_id", info.AgentID,
		"name", info.Name,
		"connection_id", msg.Conn.ID())
	return nil
}

func (e *Endpoint) registerResources(_ context.Context, msg transport.Message) error {
	var list wire.ResourceList
	if err := msg.Decode(&list); err != nil {
		return err
	}
	if strings.TrimSpace(list.AgentID) == "" {
		return fmt.Errorf("%s: %w", msg.Name, ErrMissingAgentID)
	}

	var regs []registry.Registration
	if list.Resources != nil {
		regs = make([]registry.Registration, 0, len(list.Resources))
		for _, r := range list.Resources {
			regs = append(regs, registry.Registration{ID: r.ResourceID, Name: r.Name})
		}
	}
	e.registry.UpsertResources(list.AgentID, regs)

	e.logger.Debug("resources registered", "agent_id", list.AgentID, "count", len(regs))
	return nil
}

func (e *Endpoint) pushResourceUpdate(_ context.Context, msg transport.Message) error {
	var u wire.ResourceUpdate
	if err := msg.Decode(&u); err != nil {
		return err
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	e.registry.ApplyUpdate(u.ResourceID, u.AgentID, u.Value, ts)
	return nil
}

// deliverReply serves both reply kinds; correlation ids share one space.
func (e *Endpoint) deliverReply(_ context.Context, msg transport.Message) error {
	var c wire.Correlated
	if err := msg.Decode(&c); err != nil {
		return err
	}
	e.bridge.DeliverReply(c.CorrelationID, msg.Payload)
	return nil
}

func (e *Endpoint) connected(p *transport.Peer) {
	e.logger.Debug("agent stream connected", "connection_id", p.ID(), "remote", p.Remote())
}

func (e *Endpoint) disconnected(p *transport.Peer, reason error) {
	removed := e.bridge.OnDisconnected(p)
	e.logger.Info("agent stream disconnected",
		"connection_id", p.ID(),
		"agents", removed,
		"reason", reason)
}
