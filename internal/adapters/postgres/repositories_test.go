package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emiliopalmerini/abassign/internal/adapters/storetest"
	"github.com/emiliopalmerini/abassign/internal/domain"
)

// testPostgres starts a disposable PostgreSQL container with the schema applied.
func testPostgres(t *testing.T) *Repositories {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "abassign",
			"POSTGRES_PASSWORD": "abassign",
			"POSTGRES_DB":       "abassign",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://abassign:abassign@%s:%s/abassign?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "schema must apply twice")

	return NewRepositories(pool)
}

func TestRepositories_Contract(t *testing.T) {
	repos := testPostgres(t)

	// Every contract case works on fresh IDs, so one container serves all.
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		return storetest.Stores{
			Experiments: repos.Experiments,
			Assignments: repos.Assignments,
			Events:      repos.Events,
		}
	})
}

func TestAssignmentInsert_ConcurrentWritersKeepOneRow(t *testing.T) {
	repos := testPostgres(t)
	ctx := context.Background()
	expID := storetest.StartExperiment(t, repos.Experiments).ID

	const writers = 16
	wins := make(chan bool, writers)
	for i := range writers {
		go func() {
			ok, err := repos.Assignments.Insert(ctx, &domain.Assignment{
				ExperimentID: expID,
				UserID:       "u1",
				VariantID:    fmt.Sprintf("v%d", i),
				AssignedAt:   time.Now(),
			})
			assert.NoError(t, err)
			wins <- ok
		}()
	}

	won := 0
	for range writers {
		if <-wins {
			won++
		}
	}
	assert.Equal(t, 1, won)

	counts, err := repos.Assignments.CountByVariant(ctx, expID)
	require.NoError(t, err)
	var total int64
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, int64(1), total)
}

func TestWrap_ClassifiesPgErrors(t *testing.T) {
	tests := []struct {
		code      string
		transient bool
	}{
		{codeSerializationFailure, true},
		{codeDeadlockDetected, true},
		{"08006", true},
		{codeUniqueViolation, false},
		{"42P01", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := wrap("query", &pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.transient, domain.IsTransient(err))
		})
	}

	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
