// ABOUTME: SQLite implementation of SettingsStore using modernc.org/sqlite
// ABOUTME: Keeps every save as a row so the settings history survives restarts

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SettingsStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite settings store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL COLLATE NOCASE,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_settings_agent
			ON settings(agent_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveSettings appends a settings row and returns "<path>#<row id>".
func (s *SQLiteStore) SaveSettings(ctx context.Context, st *Settings) (string, error) {
	query := `
		INSERT INTO settings (agent_id, name, payload, saved_at)
		VALUES (?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		st.AgentID,
		st.Name,
		st.Payload,
		st.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("saving settings: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("reading settings id: %w", err)
	}

	s.logger.Debug("saved settings", "agent_id", st.AgentID, "id", id, "size", len(st.Payload))
	return fmt.Sprintf("%s#%d", s.path, id), nil
}

// LatestSettings returns the newest row for agentID.
// Returns ErrNotFound if the agent has never saved.
func (s *SQLiteStore) LatestSettings(ctx context.Context, agentID string) (*Settings, error) {
	query := `
		SELECT agent_id, name, payload, saved_at
		FROM settings
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var st Settings
	var savedAt string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&st.AgentID, &st.Name, &st.Payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	st.Timestamp, err = time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing saved_at: %w", err)
	}
	return &st, nil
}
