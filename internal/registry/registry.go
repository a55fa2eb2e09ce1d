// ABOUTME: Concurrent store of agents and the resources they report.
// ABOUTME: Atomic upserts under one mutex, sorted snapshots, isolated change observers.

package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// AgentRecord describes a registered agent. It is replaced wholesale on
// every registration.
type AgentRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// ResourceState is the latest known state of one resource.
// LastUpdated is nil until the first value update arrives.
type ResourceState struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AgentID     string     `json:"agent_id"`
	Value       float64    `json:"value"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Registration is one entry of a resource list sent by an agent.
type Registration struct {
	ID   string
	Name string
}

// Snapshot is a point-in-time copy of the registry, ordered
// case-insensitively by identity.
type Snapshot struct {
	Agents    []AgentRecord   `json:"agents"`
	Resources []ResourceState `json:"resources"`
}

// Registry holds agents and resources keyed by lower-cased identity.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	agents    map[string]AgentRecord
	resources map[string]*ResourceState

	obsMu     sync.Mutex
	observers map[uint64]func()
	streams   map[uint64]chan struct{}
	nextID    uint64
	closed    bool
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger.With("component", "registry"),
		agents:    make(map[string]AgentRecord),
		resources: make(map[string]*ResourceState),
		observers: make(map[uint64]func()),
		streams:   make(map[uint64]chan struct{}),
	}
}

func key(id string) string {
	return strings.ToLower(id)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// UpsertAgent replaces the record for id. Blank ids are ignored.
func (r *Registry) UpsertAgent(id, name string, lastSeen time.Time) {
	if blank(id) {
		return
	}

	r.mu.Lock()
	r.agents[key(id)] = AgentRecord{ID: id, Name: name, LastSeen: lastSeen}
	r.mu.Unlock()

	r.notify()
}

// UpsertResources merges a resource list owned by agentID. Existing values
// and timestamps are kept; only name and owner are updated. A nil list or
// blank agent id is ignored, and observers are notified only when
// something was created or changed.
func (r *Registry) UpsertResources(agentID string, list []Registration) {
	if blank(agentID) || list == nil {
		return
	}

	changed := false

	r.mu.Lock()
	for _, reg := range list {
		if blank(reg.ID) {
			continue
		}
		k := key(reg.ID)
		existing, ok := r.resources[k]
		if !ok {
			r.resources[k] = &ResourceState{ID: reg.ID, Name: reg.Name, AgentID: agentID}
			changed = true
			continue
		}
		if existing.Name != reg.Name || existing.AgentID != agentID {
			existing.Name = reg.Name
			existing.AgentID = agentID
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// ApplyUpdate records a new value for resourceID. An unknown resource gets
// a placeholder entry named after its id. Updates are applied in arrival
// order without timestamp comparison.
func (r *Registry) ApplyUpdate(resourceID, agentID string, value float64, ts time.Time) {
	if blank(resourceID) || blank(agentID) {
		return
	}

	r.mu.Lock()
	k := key(resourceID)
	state, ok := r.resources[k]
	if !ok {
		state = &ResourceState{ID: resourceID, Name: resourceID}
		r.resources[k] = state
	}
	state.AgentID = agentID
	state.Value = value
	state.LastUpdated = &ts
	r.mu.Unlock()

	r.notify()
}

// Agent returns a copy of the agent record for id.
func (r *Registry) Agent(id string) (AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[key(id)]
	return a, ok
}

// Resource returns a copy of the resource state for id.
func (r *Registry) Resource(id string) (ResourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.resources[key(id)]
	if !ok {
		return ResourceState{}, false
	}
	return copyResource(s), true
}

// Snapshot returns a consistent copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	snap := Snapshot{
		Agents:    make([]AgentRecord, 0, len(r.agents)),
		Resources: make([]ResourceState, 0, len(r.resources)),
	}
	for _, a := range r.agents {
		snap.Agents = append(snap.Agents, a)
	}
	for _, s := range r.resources {
		snap.Resources = append(snap.Resources, copyResource(s))
	}
	r.mu.Unlock()

	sort.Slice(snap.Agents, func(i, j int) bool {
		return less(snap.Agents[i].ID, snap.Agents[j].ID)
	})
	sort.Slice(snap.Resources, func(i, j int) bool {
		return less(snap.Resources[i].ID, snap.Resources[j].ID)
	})
	return snap
}

func copyResource(s *ResourceState) ResourceState {
	out := *s
	if s.LastUpdated != nil {
		ts := *s.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}

// less orders case-insensitively, falling back to the exact id so the order is total.
func less(a, b string) bool {
	la, lb := key(a), key(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// OnChange registers fn to be called after every change. The returned func
// removes it. Panics in fn are recovered and logged.
func (r *Registry) OnChange(fn func()) (cancel func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	id := r.nextID
	r.nextID++
	r.observers[id] = fn

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		delete(r.observers, id)
	}
}

// Subscribe returns a channel that receives a value after changes. Bursts
// are coalesced into a single pending signal. The channel is closed when
// ctx ends or the registry is closed.
func (r *Registry) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	r.obsMu.Lock()
	if r.closed {
		r.obsMu.Unlock()
		close(ch)
		return ch
	}
	id := r.nextID
	r.nextID++
	r.streams[id] = ch
	r.obsMu.Unlock()

	context.AfterFunc(ctx, func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		if s, ok := r.streams[id]; ok {
			delete(r.streams, id)
			close(s)
		}
	})
	return ch
}

// Close closes every subscription channel. Observers registered with
// OnChange are dropped.
func (r *Registry) Close() {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.streams {
		delete(r.streams, id)
		close(ch)
	}
	clear(r.observers)
}

func (r *Registry) notify() {
	r.obsMu.Lock()
	fns := make([]func(), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	for _, ch := range r.streams {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		r.call(fn)
	}
}

func (r *Registry) call(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("change observer panicked", "panic", rec)
		}
	}()
	fn()
}
