package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/infrastructure/sqlite"
)

// OpenStateDB creates an in-memory state database, closed when the test
// completes.
func OpenStateDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.OpenInMemory()
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db
}

// OpenStateRepo returns a tab-state repository backed by an in-memory
// database.
func OpenStateRepo(t *testing.T) *sqlite.StateRepository {
	t.Helper()
	return OpenStateDB(t).StateRepository(sqlite.TabStateKey)
}
