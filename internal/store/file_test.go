// ABOUTME: Tests for the JSON file settings store and backend selection.
// ABOUTME: Checks indented output, latest reads, required paths, and Open by backend name.

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveWritesIndentedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "settings.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	ts := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	loc, err := fs.SaveSettings(t.Context(), &Settings{
		AgentID:   "agent-1",
		Name:      "Agent on host",
		Timestamp: ts,
		Payload:   `{"unit":"C"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, path, loc)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"agentId\": \"agent-1\"")

	var got Settings
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, `{"unit":"C"}`, got.Payload)
	assert.True(t, ts.Equal(got.Timestamp))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestFileStore_Latest(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	_, err = fs.LatestSettings(t.Context(), "agent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.SaveSettings(t.Context(), &Settings{AgentID: "Agent-1", Payload: "first"})
	require.NoError(t, err)
	_, err = fs.SaveSettings(t.Context(), &Settings{AgentID: "Agent-1", Payload: "second"})
	require.NoError(t, err)

	got, err := fs.LatestSettings(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Payload)

	_, err = fs.LatestSettings(t.Context(), "agent-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore(" ")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("", filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open("SQLite", filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "x")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
