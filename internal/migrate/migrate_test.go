package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	all, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "initial", all[0].Name)
	assert.NotEmpty(t, all[0].DownSQL)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestMigrator_UpAndDown(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	var out bytes.Buffer
	m := New(db, &out)

	require.NoError(t, m.Up(ctx))
	assert.Contains(t, out.String(), "up 001_initial")

	version, dirty, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, 1)

	_, err = db.ExecContext(ctx, `INSERT INTO experiments (id, name, status, strategy, version, created_at) VALUES ('e', 'n', 'DRAFT', 'xxh3', 0, 'now')`)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, m.Up(ctx))
	assert.Contains(t, out.String(), "No migrations to run")

	require.NoError(t, m.DownTo(ctx, 0))
	version, _, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	_, err = db.ExecContext(ctx, `SELECT 1 FROM experiments`)
	assert.Error(t, err)
}

func TestRunAll_RefusesDirtyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := New(db, nil)

	require.NoError(t, m.EnsureMigrationsTable(ctx))
	require.NoError(t, m.SetVersion(ctx, 1, true))

	err := RunAll(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty")
}

func TestSplitSQL(t *testing.T) {
	got := SplitSQL("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a(x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a(x)"}, got)
}
