// ABOUTME: Settings persistence used by agents to carry out save requests.
// ABOUTME: Defines the Settings record, the SettingsStore interface, and backend selection.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no settings have been saved yet.
var ErrNotFound = errors.New("not found")

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown settings backend")

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Settings is one saved payload. Payload is opaque to the store.
type Settings struct {
	AgentID   string    `json:"agentId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload"`
}

// SettingsStore persists settings on behalf of an agent.
type SettingsStore interface {
	// SaveSettings stores s and returns a human-readable location.
	SaveSettings(ctx context.Context, s *Settings) (string, error)
	// LatestSettings returns the most recently saved settings for agentID.
	LatestSettings(ctx context.Context, agentID string) (*Settings, error)
	Close() error
}

// Open returns the store for backend rooted at path.
func Open(backend, path string) (SettingsStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
