package turso

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/migrate"
)

// testDB opens an in-memory SQLite database with all migrations applied.
func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Options{Driver: DriverSQLite, URL: ":memory:", Ping: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrate.RunAll(context.Background(), db.DB))
	return db
}
