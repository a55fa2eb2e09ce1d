// ABOUTME: Maps agent identities to their current connection and correlates requests with replies.
// ABOUTME: Every pending request is settled exactly once by reply, timeout, cancellation, or disconnect.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/wire"
)

// DefaultRequestTimeout applies when a caller passes a non-positive timeout.
const DefaultRequestTimeout = 10 * time.Second

const (
	settledTTL     = 5 * time.Minute
	settledMaxSize = 100_000
	deadTTL        = 10 * time.Minute
	deadMaxSize    = 10_000
)

var (
	// ErrNotConnected means no live connection is mapped for the agent.
	ErrNotConnected = errors.New("agent not connected")

	// ErrTimeout means the agent did not reply before the deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed means the bridge has been shut down.
	ErrClosed = errors.New("bridge closed")
)

// Settle reasons recorded for finished correlation ids.
const (
	settledReplied      = "replied"
	settledTimeout      = "timeout"
	settledCancelled    = "cancelled"
	settledDisconnected = "disconnected"
	settledSendFailed   = "send_failed"
	settledClosed       = "closed"
)

// Handle is the coordinator's send side of one agent connection. ID must be
// unique per underlying stream; a reconnecting agent presents a new Handle.
type Handle interface {
	ID() string
	Send(name string, payload any) error
}

// Config configures a Bridge.
type Config struct {
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// SaveResult is the outcome reported by an agent for a save request.
type SaveResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type mapping struct {
	agentID string
	handle  Handle
}

type result struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	agentID  string
	handleID string
	name     string
	deadline time.Time
	done     chan result
}

// Bridge tracks which connection currently serves each agent and which
// requests are waiting for replies.
type Bridge struct {
	logger  *slog.Logger
	timeout time.Duration

	connMu sync.Mutex
	conns  map[string]mapping
	dead   *dedupe.Cache[struct{}]

	pendMu  sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	settled *dedupe.Cache[string]
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		logger:  cfg.Logger.With("component", "bridge"),
		timeout: cfg.RequestTimeout,
		conns:   make(map[string]mapping),
		dead:    dedupe.New[struct{}](deadTTL, deadMaxSize),
		pending: make(map[string]*pendingRequest),
		settled: dedupe.New[string](settledTTL, settledMaxSize),
	}
}

func key(agentID string) string {
	return strings.ToLower(agentID)
}

// OnRegistered maps agentID to h, replacing any previous handle. It returns
// false when agentID is blank or h has already disconnected.
func (b *Bridge) OnRegistered(agentID string, h Handle) bool {
	if strings.TrimSpace(agentID) == "" || h == nil {
		return false
	}

	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.dead.Contains(h.ID()) {
		b.logger.Warn("ignoring registration from closed connection",
			"agent_id", agentID, "connection_id", h.ID())
		return false
	}

	if prev, ok := b.conns[key(agentID)]; ok && prev.handle.ID() != h.ID() {
		b.logger.Info("agent connection replaced",
			"agent_id", agentID,
			"old_connection_id", prev.handle.ID(),
			"connection_id", h.ID())
	}
	b.conns[key(agentID)] = mapping{agentID: agentID, handle: h}
	return true
}

// OnDisconnected removes every mapping whose current handle is h and fails
// requests that were sent over h. Mappings installed by a newer handle for
// the same agent are left alone. It returns the agent ids that were removed;
// repeated calls for the same handle return nil.
func (b *Bridge) OnDisconnected(h Handle) []string {
	if h == nil {
		return nil
	}
	id := h.ID()

	var removed []string

	b.connMu.Lock()
	if !b.dead.Add(id, struct{}{}) {
		b.connMu.Unlock()
		return nil
	}
	for k, m := range b.conns {
		if m.handle.ID() == id {
			delete(b.conns, k)
			removed = append(removed, m.agentID)
		}
	}
	b.connMu.Unlock()

	sort.Strings(removed)

	failed := b.failPending(func(p *pendingRequest) bool { return p.handleID == id },
		settledDisconnected, fmt.Errorf("%w: connection %s closed", ErrNotConnected, id))

	if len(removed) > 0 || failed > 0 {
		b.logger.Info("connection removed",
			"connection_id", id, "agents", removed, "failed_requests", failed)
	}
	return removed
}

// Connected returns the ids of agents with a live mapping, sorted.
func (b *Bridge) Connected() []string {
	b.connMu.Lock()
	ids := make([]string, 0, len(b.conns))
	for _, m := range b.conns {
		ids = append(ids, m.agentID)
	}
	b.connMu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return key(ids[i]) < key(ids[j]) })
	return ids
}

// IsConnected reports whether agentID has a live mapping.
func (b *Bridge) IsConnected(agentID string) bool {
	_, ok := b.lookup(agentID)
	return ok
}

// ConnectionID returns the id of the handle currently mapped for agentID.
func (b *Bridge) ConnectionID(agentID string) (string, bool) {
	h, ok := b.lookup(agentID)
	if !ok {
		return "", false
	}
	return h.ID(), true
}

func (b *Bridge) lookup(agentID string) (Handle, bool) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	m, ok := b.conns[key(agentID)]
	return m.handle, ok
}

// Pending returns the number of requests waiting for a reply.
func (b *Bridge) Pending() int {
	b.pendMu.Lock()
	defer b.pendMu.Unlock()
	return len(b.pending)
}

// Request sends the message built by build to agentID and waits for the
// reply carrying the same correlation id. It fails immediately with
// ErrNotConnected when the agent has no live connection. A non-positive
// timeout uses the configured default.
func (b *Bridge) Request(ctx context.Context, agentID, name string, build func(correlationID string) any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.timeout
	}

	h, ok := b.lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, agentID)
	}

	id := uuid.NewString()
	p := &pendingRequest{
		agentID:  agentID,
		handleID: h.ID(),
		name:     name,
		deadline: time.Now().Add(timeout),
		done:     make(chan result, 1),
	}

	b.pendMu.Lock()
	if b.closed {
		b.pendMu.Unlock()
		return nil, ErrClosed
	}
	b.pending[id] = p
	b.pendMu.Unlock()

	logger := b.logger.With("agent_id", agentID, "correlation_id", id, "message", name)

	// The handle may have disconnected after lookup but before the request
	// was visible to OnDisconnected.
	if b.dead.Contains(p.handleID) {
		if b.settle(id, settledDisconnected) {
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, agentID)
		}
		return b.await(p)
	}

	if err := h.Send(name, build(id)); err != nil {
		if b.settle(id, settledSendFailed) {
			logger.Warn("request send failed", "error", err)
			return nil, fmt.Errorf("sending %s to %s: %w", name, agentID, err)
		}
		return b.await(p)
	}
	logger.Debug("request sent", "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.payload, r.err
	case <-timer.C:
		if b.settle(id, settledTimeout) {
			logger.Warn("request timed out", "timeout", timeout)
			return nil, fmt.Errorf("%w: %s to %s after %s", ErrTimeout, name, agentID, timeout)
		}
	case <-ctx.Done():
		if b.settle(id, settledCancelled) {
			return nil, ctx.Err()
		}
	}
	// Another resolver removed the entry first; its result is on the way.
	return b.await(p)
}

func (b *Bridge) await(p *pendingRequest) (json.RawMessage, error) {
	r := <-p.done
	return r.payload, r.err
}

// settle removes id from the pending set. Only the caller that gets true
// may report an outcome for id.
func (b *Bridge) settle(id, reason string) bool {
	b.pendMu.Lock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	b.pendMu.Unlock()

	if ok {
		b.settled.Add(id, reason)
	}
	return ok
}

// DeliverReply resolves the pending request with the given correlation id.
// It returns false, without error, when no such request is pending.
func (b *Bridge) DeliverReply(correlationID string, payload json.RawMessage) bool {
	b.pendMu.Lock()
	p, ok := b.pending[correlationID]
	delete(b.pending, correlationID)
	b.pendMu.Unlock()

	if !ok {
		if reason, late := b.settled.Get(correlationID); late {
			b.logger.Debug("dropping late reply", "correlation_id", correlationID, "settled", reason)
		} else {
			b.logger.Warn("dropping reply for unknown request", "correlation_id", correlationID)
		}
		return false
	}

	b.settled.Add(correlationID, settledReplied)
	p.done <- result{payload: payload}
	return true
}

func (b *Bridge) failPending(match func(*pendingRequest) bool, reason string, err error) int {
	b.pendMu.Lock()
	var failed []*pendingRequest
	var ids []string
	for id, p := range b.pending {
		if match(p) {
			delete(b.pending, id)
			failed = append(failed, p)
			ids = append(ids, id)
		}
	}
	b.pendMu.Unlock()

	for i, p := range failed {
		b.settled.Add(ids[i], reason)
		p.done <- result{err: err}
	}
	return len(failed)
}

// RequestDetails asks agentID for an HTML description of resourceID.
func (b *Bridge) RequestDetails(ctx context.Context, agentID, resourceID string, timeout time.Duration) (string, error) {
	raw, err := b.Request(ctx, agentID, wire.RequestResourceDetails, func(id string) any {
		return wire.DetailsRequest{CorrelationID: id, ResourceID: resourceID}
	}, timeout)
	if err != nil {
		return "", err
	}

	var reply wire.DetailsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("decoding details reply: %w", err)
	}
	return reply.HTML, nil
}

// RequestSave asks agentID to persist payload and returns its result.
func (b *Bridge) RequestSave(ctx context.Context, agentID, payload string, timeout time.Duration) (SaveResult, error) {
	raw, err := b.Request(ctx, agentID, wire.PerformSave, func(id string) any {
		return wire.SaveRequest{CorrelationID: id, Payload: payload}
	}, timeout)
	if err != nil {
		return SaveResult{}, err
	}

	var reply wire.SaveReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return SaveResult{}, fmt.Errorf("decoding save reply: %w", err)
	}
	return SaveResult{OK: reply.OK, Message: reply.Message}, nil
}

// Close fails every pending request with ErrClosed and rejects new ones.
func (b *Bridge) Close() {
	b.pendMu.Lock()
	if b.closed {
		b.pendMu.Unlock()
		return
	}
	b.closed = true
	b.pendMu.Unlock()

	b.failPending(func(*pendingRequest) bool { return true }, settledClosed, ErrClosed)
	b.dead.Close()
	b.settled.Close()
}
