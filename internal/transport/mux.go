// ABOUTME: Named message handler registration and per-connection ordered dispatch.
// ABOUTME: One worker per message name keeps arrival order while names run concurrently.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const dispatchQueueSize = 64

// Conn is the sending side of one logical connection.
type Conn interface {
	// ID identifies the underlying stream. It changes on every reconnect.
	ID() string
	// Send enqueues a named message without waiting for the network.
	Send(name string, payload any) error
}

// Message is one inbound named message.
type Message struct {
	Name    string
	Payload json.RawMessage
	Conn    Conn
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Name, err)
	}
	return nil
}

// Handler processes one inbound message. Returned errors are logged.
type Handler func(ctx context.Context, msg Message) error

// Mux maps message names to handlers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for name, replacing any previous handler.
func (m *Mux) Handle(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

func (m *Mux) lookup(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	return h, ok
}

// dispatcher fans inbound messages of one connection out to per-name workers.
// dispatch and close must be called from the same goroutine (the reader).
type dispatcher struct {
	ctx    context.Context
	done   <-chan struct{}
	mux    *Mux
	logger *slog.Logger
	queues map[string]chan Message
}

// newDispatcher runs handlers with ctx; done aborts a dispatch blocked on a full queue.
func newDispatcher(ctx context.Context, done <-chan struct{}, mux *Mux, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		ctx:    ctx,
		done:   done,
		mux:    mux,
		logger: logger,
		queues: make(map[string]chan Message),
	}
}

func (d *dispatcher) dispatch(msg Message) {
	h, ok := d.mux.lookup(msg.Name)
	if !ok {
		d.logger.Warn("no handler for message", "message", msg.Name)
		return
	}

	q, ok := d.queues[msg.Name]
	if !ok {
		q = make(chan Message, dispatchQueueSize)
		d.queues[msg.Name] = q
		go d.work(q, h)
	}

	select {
	case q <- msg:
	case <-d.done:
	}
}

func (d *dispatcher) work(q <-chan Message, h Handler) {
	for msg := range q {
		d.invoke(h, msg)
	}
}

func (d *dispatcher) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "message", msg.Name, "panic", r)
		}
	}()
	if err := h(d.ctx, msg); err != nil {
		d.logger.Warn("handler failed", "message", msg.Name, "error", err)
	}
}

// close stops accepting messages. Workers drain what is already queued.
func (d *dispatcher) close() {
	for name, q := range d.queues {
		close(q)
		delete(d.queues, name)
	}
}
