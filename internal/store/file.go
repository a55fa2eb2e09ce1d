// ABOUTME: JSON-file settings store; each save overwrites a single indented settings file.
// ABOUTME: Writes go through a temp file and rename so readers never see partial JSON.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps the latest settings in one JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore writing to path. Parent directories are
// created if needed.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the file the store writes to.
func (f *FileStore) Path() string { return f.path }

// SaveSettings writes s as indented JSON and returns the file path.
func (f *FileStore) SaveSettings(ctx context.Context, s *Settings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*.json")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return "", fmt.Errorf("replacing settings file: %w", err)
	}
	return f.path, nil
}

// LatestSettings reads the settings file. The file holds a single record,
// so a record for a different agent is reported as ErrNotFound.
func (f *FileStore) LatestSettings(ctx context.Context, agentID string) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if !strings.EqualFold(s.AgentID, agentID) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }
