package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TabStateKey is the fixed key the tab store persists under.
const TabStateKey = "tabs"

// StateRepository stores one opaque blob per key.
// It implements tabs.StateRepository.
type StateRepository struct {
	db  *sql.DB
	key string
}

// Save replaces the blob for this repository's key.
func (r *StateRepository) Save(blob []byte) error {
	_, err := r.db.Exec(
		`INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		r.key, string(blob), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving state blob %q: %w", r.key, err)
	}
	return nil
}

// Load returns the blob for this repository's key and whether one exists.
func (r *StateRepository) Load() ([]byte, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, r.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading state blob %q: %w", r.key, err)
	}
	return []byte(value), true, nil
}
