package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Database.Backend)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Engine.ExperimentCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.Engine.AssignmentCacheTTL)
	assert.Equal(t, 1024, cfg.Engine.EventBufferSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Prometheus.Enabled)
	assert.False(t, cfg.OTel.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ABASSIGN_DATABASE_BACKEND", "libsql")
	t.Setenv("ABASSIGN_DATABASE_URL", "libsql://abassign.turso.io")
	t.Setenv("ABASSIGN_DATABASE_AUTH_TOKEN", "secret")
	t.Setenv("ABASSIGN_DATABASE_SYNC_INTERVAL", "1m")
	t.Setenv("ABASSIGN_ENGINE_ASSIGNMENT_CACHE_SIZE", "0")
	t.Setenv("ABASSIGN_LOG_FORMAT", "json")
	t.Setenv("ABASSIGN_SERVER_PORT", "9090")
	t.Setenv("ABASSIGN_OTEL_ENABLED", "true")
	t.Setenv("ABASSIGN_OTEL_ENDPOINT", "collector:4317")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendLibsql, cfg.Database.Backend)
	assert.Equal(t, "secret", cfg.Database.AuthToken)
	assert.Equal(t, time.Minute, cfg.Database.SyncInterval)
	assert.Equal(t, 0, cfg.Engine.AssignmentCacheSize)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTel.Endpoint)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"ABASSIGN_DATABASE_BACKEND": "mysql"}},
		{"libsql without url", map[string]string{"ABASSIGN_DATABASE_BACKEND": "libsql"}},
		{"postgres without dsn", map[string]string{"ABASSIGN_DATABASE_BACKEND": "postgres"}},
		{"bad duration", map[string]string{"ABASSIGN_ENGINE_EXPERIMENT_CACHE_TTL": "soon"}},
		{"empty buffer", map[string]string{"ABASSIGN_ENGINE_EVENT_BUFFER_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
