// Package sqlite provides the durable local storage backing the tab store.
// State is kept as a single JSON blob in a key/value table; every write
// replaces the whole blob in one statement, so a crash can lose at most the
// latest mutation, never corrupt existing state.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// DB wraps the state database connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path and ensures
// the schema exists.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a fresh in-memory database. Used by tests.
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	return &DB{db: db}, nil
}

// StateRepository returns the blob repository for the given key.
func (d *DB) StateRepository(key string) *StateRepository {
	return &StateRepository{db: d.db, key: key}
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}
