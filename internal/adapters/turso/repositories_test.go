package turso

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/adapters/storetest"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/migrate"
)

func TestRepositories_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		repos := NewRepositories(testDB(t).DB)
		return storetest.Stores{
			Experiments: repos.Experiments,
			Assignments: repos.Assignments,
			Events:      repos.Events,
		}
	})
}

func TestNewDB_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "abassign.db")

	db, err := NewDB(Options{Driver: DriverSQLite, URL: path, Ping: true})
	require.NoError(t, err)
	require.NoError(t, migrate.RunAll(context.Background(), db.DB))

	e := storetest.NewExperiment(100)
	require.NoError(t, NewExperimentRepository(db.DB).Create(context.Background(), e))
	require.NoError(t, db.Sync(), "sync is a no-op without a replica")
	require.NoError(t, db.Close())

	reopened, err := NewDB(Options{Driver: DriverSQLite, URL: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := NewExperimentRepository(reopened.DB).GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Variants, 1)
}

func TestNewDB_RejectsBadOptions(t *testing.T) {
	_, err := NewDB(Options{Driver: "mysql"})
	assert.Error(t, err)

	_, err = NewDB(Options{Driver: DriverLibsql})
	assert.Error(t, err)
}

func TestWrap_MarksTransientErrors(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{driver.ErrBadConn, true},
		{errors.New("stream not found"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("UNIQUE constraint failed: variants.name"), false},
		{errors.New("syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := wrap("do thing", tt.err)
			assert.Equal(t, tt.transient, domain.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "failed to do thing")
		})
	}
}

func TestIsStreamError(t *testing.T) {
	assert.False(t, IsStreamError(nil))
	assert.True(t, IsStreamError(fmt.Errorf("query: %w", errors.New("hrana: stream not found"))))
}
