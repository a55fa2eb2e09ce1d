// ABOUTME: Observable agent status: connection state, last message, and update time.
// ABOUTME: Observers are called outside the lock and their panics are discarded.

package agent

import (
	"log/slog"
	"sync"
	"time"
)

// StatusSnapshot is a copy of the agent status at one moment.
type StatusSnapshot struct {
	State       State     `json:"state"`
	LastMessage string    `json:"last_message"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status tracks what the agent is doing for display and logging.
type Status struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	current   StatusSnapshot
	observers map[int]func(StatusSnapshot)
	nextID    int
}

func newStatus(logger *slog.Logger, now func() time.Time) *Status {
	return &Status{
		logger:    logger,
		now:       now,
		current:   StatusSnapshot{State: StateDisconnected, UpdatedAt: now()},
		observers: make(map[int]func(StatusSnapshot)),
	}
}

// Get returns the current status.
func (s *Status) Get() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set records a state change together with a message.
func (s *Status) Set(state State, message string) {
	s.update(func(cur *StatusSnapshot) {
		cur.State = state
		cur.LastMessage = message
	})
}

// Note records a message without changing the state.
func (s *Status) Note(message string) {
	s.update(func(cur *StatusSnapshot) {
		cur.LastMessage = message
	})
}

// OnChange registers fn to receive every status change. The returned func removes it.
func (s *Status) OnChange(fn func(StatusSnapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Status) update(mutate func(*StatusSnapshot)) {
	s.mu.Lock()
	mutate(&s.current)
	s.current.UpdatedAt = s.now()
	snap := s.current
	fns := make([]func(StatusSnapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("status observer panicked", "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}
