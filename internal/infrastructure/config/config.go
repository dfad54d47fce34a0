package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/emiliopalmerini/abassign/internal/adapters/otel"
	"github.com/emiliopalmerini/abassign/internal/adapters/prometheus"
)

// Store backends.
const (
	BackendLibsql   = "libsql"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Database holds storage configuration (ABASSIGN_DATABASE_*).
type Database struct {
	Backend string `envconfig:"BACKEND" default:"sqlite"`
	// URL is a libsql URL for the libsql backend and a file path for sqlite.
	// An empty sqlite path uses the XDG data directory.
	URL          string        `envconfig:"URL"`
	AuthToken    string        `envconfig:"AUTH_TOKEN"`
	ReplicaPath  string        `envconfig:"REPLICA_PATH"`
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"0s"`
	PostgresDSN  string        `envconfig:"POSTGRES_DSN"`
	MaxConns     int32         `envconfig:"MAX_CONNS" default:"10"`
	// AutoMigrate applies pending migrations when the application starts.
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"true"`
}

// Engine holds tuning for the assignment engine (ABASSIGN_ENGINE_*).
type Engine struct {
	AssignmentCacheSize int           `envconfig:"ASSIGNMENT_CACHE_SIZE" default:"10000"`
	AssignmentCacheTTL  time.Duration `envconfig:"ASSIGNMENT_CACHE_TTL" default:"10s"`
	ExperimentCacheSize int           `envconfig:"EXPERIMENT_CACHE_SIZE" default:"256"`
	ExperimentCacheTTL  time.Duration `envconfig:"EXPERIMENT_CACHE_TTL" default:"30s"`
	EventBufferSize     int           `envconfig:"EVENT_BUFFER_SIZE" default:"1024"`
	EventWriteTimeout   time.Duration `envconfig:"EVENT_WRITE_TIMEOUT" default:"5s"`
	RetryMax            uint64        `envconfig:"RETRY_MAX" default:"3"`
	RetryInitial        time.Duration `envconfig:"RETRY_INITIAL" default:"20ms"`
}

// Log holds logging configuration (ABASSIGN_LOG_*).
type Log struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

// Server holds HTTP server configuration (ABASSIGN_SERVER_*).
type Server struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Config is the full application configuration.
type Config struct {
	Database   Database
	Engine     Engine
	Log        Log
	Server     Server
	OTel       otel.Config
	Prometheus prometheus.Config
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	sections := []struct {
		prefix string
		spec   any
	}{
		{"ABASSIGN_DATABASE", &cfg.Database},
		{"ABASSIGN_ENGINE", &cfg.Engine},
		{"ABASSIGN_LOG", &cfg.Log},
		{"ABASSIGN_SERVER", &cfg.Server},
		{"ABASSIGN_OTEL", &cfg.OTel},
		{"ABASSIGN_PROMETHEUS", &cfg.Prometheus},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s configuration: %w", s.prefix, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case BackendSQLite:
	case BackendLibsql:
		if c.Database.URL == "" {
			return fmt.Errorf("ABASSIGN_DATABASE_URL is required for the libsql backend")
		}
	case BackendPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("ABASSIGN_DATABASE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	if c.Engine.EventBufferSize <= 0 {
		return fmt.Errorf("ABASSIGN_ENGINE_EVENT_BUFFER_SIZE must be positive")
	}
	return nil
}
