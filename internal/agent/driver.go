// ABOUTME: Agent session driver: owns the gateway connection, registers on every connect,
// ABOUTME: runs the change-driven sampler, and answers details and save requests.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/transport"
	"github.com/2389/relay-gateway/internal/wire"
)

// DefaultInterval is the sampler period.
const DefaultInterval = 5 * time.Second

// Transport is the connection the driver sends and receives on.
// *transport.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(name string, payload any) error
	Handle(name string, h transport.Handler)
	OnReconnected(fn func())
	OnDisconnected(fn func(error))
}

// Resource is a resource owned by this agent. Base is its starting value.
type Resource struct {
	ID   string
	Name string
	Base float64
}

// Config configures a Driver.
type Config struct {
	AgentID   string
	Name      string
	Resources []Resource

	// Interval is the sampler period. Zero uses DefaultInterval.
	Interval time.Duration

	// ConnectBackoff paces retries of the first connect.
	ConnectBackoff transport.BackoffConfig

	// Store carries out PerformSave. Saves fail when nil.
	Store store.SettingsStore

	Logger *slog.Logger
	Rand   *rand.Rand
	Now    func() time.Time
}

// Driver runs one agent session.
type Driver struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger
	rng       *rand.Rand
	now       func() time.Time
	status    *Status
	details   *detailsRenderer

	mu    sync.Mutex
	state State

	valuesMu sync.RWMutex
	values   map[string]float64
}

// New creates a Driver using t as its connection and installs its
// request handlers and lifecycle hooks on t.
func New(cfg Config, t Transport) (*Driver, error) {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, errors.New("agent id is required")
	}
	if t == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.ConnectBackoff = cfg.ConnectBackoff.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.With("component", "agent", "agent_id", cfg.AgentID)

	values := make(map[string]float64, len(cfg.Resources))
	for _, r := range cfg.Resources {
		values[strings.ToLower(r.ID)] = r.Base
	}

	d := &Driver{
		cfg:       cfg,
		transport: t,
		logger:    logger,
		rng:       cfg.Rand,
		now:       cfg.Now,
		status:    newStatus(logger, cfg.Now),
		details:   newDetailsRenderer(),
		state:     StateDisconnected,
		values:    values,
	}

	t.Handle(wire.RequestResourceDetails, d.handleDetails)
	t.Handle(wire.PerformSave, d.handleSave)
	t.OnDisconnected(func(err error) {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		d.fire(EventDropped, detail)
	})
	t.OnReconnected(func() { d.fire(EventReconnected, "") })

	return d, nil
}

// Status returns the driver's observable status.
func (d *Driver) Status() *Status { return d.status }

// State returns the current connection state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Value returns the last pushed value of a resource.
func (d *Driver) Value(resourceID string) (float64, bool) {
	d.valuesMu.RLock()
	defer d.valuesMu.RUnlock()
	v, ok := d.values[strings.ToLower(resourceID)]
	return v, ok
}

// Run connects, keeps the session registered across reconnects, and samples
// until ctx is done. It returns nil on a clean shutdown.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			d.sample()
		}
	}
}

// connect retries the first connect until it succeeds or ctx ends.
// Later reconnects are handled by the transport.
func (d *Driver) connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		d.fire(EventStart, "")

		err := d.transport.Connect(ctx)
		if err == nil {
			d.fire(EventConnected, "")
			return nil
		}
		d.fire(EventConnectFailed, err.Error())

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, transport.ErrClosed) {
			return err
		}

		delay := transport.NextBackoffDelay(d.cfg.ConnectBackoff, attempt, d.rng)
		d.logger.Warn("connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// fire applies ev to the state table and runs the transition's action.
func (d *Driver) fire(ev Event, detail string) {
	d.mu.Lock()
	from := d.state
	tr, ok := transitions[from][ev]
	if ok {
		d.state = tr.next
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("ignoring lifecycle event", "state", from, "event", ev)
		return
	}

	d.logger.Debug("state transition", "from", from, "event", ev, "to", tr.next)

	msg := eventMessages[ev]
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	d.status.Set(tr.next, msg)

	if tr.action != nil {
		tr.action(d)
	}
}

// register announces identity and the full resource list. Both sends are
// attempted every time; failures are logged and left for the next connect.
func (d *Driver) register() {
	info := wire.AgentInfo{AgentID: d.cfg.AgentID, Name: d.cfg.Name, LastSeen: d.now().UTC()}
	if err := d.transport.Send(wire.RegisterAgent, info); err != nil {
		d.logger.Warn("agent registration failed", "error", err)
		d.status.Note("Error: " + err.Error())
	}

	list := wire.ResourceList{
		AgentID:   d.cfg.AgentID,
		Resources: make([]wire.ResourceRegistration, 0, len(d.cfg.Resources)),
	}
	for _, r := range d.cfg.Resources {
		list.Resources = append(list.Resources, wire.ResourceRegistration{ResourceID: r.ID, Name: r.Name})
	}
	if err := d.transport.Send(wire.RegisterResources, list); err != nil {
		d.logger.Warn("resource registration failed", "error", err)
		d.status.Note("Error: " + err.Error())
		return
	}

	d.logger.Info("registered with gateway", "resources", len(list.Resources))
}

func (d *Driver) resource(id string) Resource {
	for _, r := range d.cfg.Resources {
		if strings.EqualFold(r.ID, id) {
			return r
		}
	}
	return Resource{ID: id, Name: id, Base: DefaultBase(id)}
}
