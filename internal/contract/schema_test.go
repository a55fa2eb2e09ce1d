// ABOUTME: Contract tests for the settings database schema to detect breaking changes.
// ABOUTME: Validates that expected tables and columns exist in the SQLite database.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/store"
)

// expectedSchema maps table names to required columns.
var expectedSchema = map[string][]string{
	"settings": {"id", "agent_id", "name", "payload", "saved_at"},
}

// setupTestDB creates a temporary SQLite database with the production schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	sqliteStore, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	// The store owns its connection; inspect through a second one.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		sqliteStore.Close()
	})

	return db
}

// getTableColumns queries SQLite to get column names for a table.
func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}

	return columns, nil
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tables := make([]string, 0, len(expectedSchema))
	for table := range expectedSchema {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			columns, err := getTableColumns(ctx, db, table)
			require.NoError(t, err)
			require.NotEmpty(t, columns, "table %s does not exist", table)

			for _, col := range expectedSchema[table] {
				assert.True(t, columns[col], "table %s is missing column %s", table, col)
			}
		})
	}
}

func TestSchemaIndexes(t *testing.T) {
	db := setupTestDB(t)

	var name string
	err := db.QueryRowContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_settings_agent'").Scan(&name)
	require.NoError(t, err, "latest-settings lookups depend on the agent index")
	assert.Equal(t, "idx_settings_agent", name)
}
