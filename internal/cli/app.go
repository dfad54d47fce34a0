package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emiliopalmerini/abassign/internal/adapters/fanout"
	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/adapters/otel"
	"github.com/emiliopalmerini/abassign/internal/adapters/postgres"
	"github.com/emiliopalmerini/abassign/internal/adapters/prometheus"
	"github.com/emiliopalmerini/abassign/internal/adapters/turso"
	"github.com/emiliopalmerini/abassign/internal/assignment"
	"github.com/emiliopalmerini/abassign/internal/engine"
	"github.com/emiliopalmerini/abassign/internal/events"
	"github.com/emiliopalmerini/abassign/internal/experiment"
	"github.com/emiliopalmerini/abassign/internal/infrastructure/config"
	"github.com/emiliopalmerini/abassign/internal/migrate"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/retry"
)

// AppContext holds all shared dependencies for CLI commands.
type AppContext struct {
	Config   *config.Config
	Logger   *logging.SlogLogger
	Engine   *engine.Engine
	Recorder *events.Recorder
	// Prometheus is nil when disabled.
	Prometheus *prometheus.Collector
	Metrics    ports.MetricsExporter

	// DB is set for the libsql and sqlite backends, Pool for postgres.
	DB   *turso.DB
	Pool *pgxpool.Pool
}

type stores struct {
	experiments ports.ExperimentRepository
	assignments ports.AssignmentRepository
	events      ports.EventRepository
}

// NewAppContext creates an AppContext from the environment. Diagnostics go
// to logOut.
func NewAppContext(ctx context.Context, logOut io.Writer) (*AppContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newAppContext(ctx, cfg, logOut)
}

func newAppContext(ctx context.Context, cfg *config.Config, logOut io.Writer) (*AppContext, error) {
	logger, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &AppContext{Config: cfg, Logger: logger}
	repos, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Metrics = a.buildMetrics(ctx)

	policy := retry.Policy{
		MaxRetries:      cfg.Engine.RetryMax,
		InitialInterval: cfg.Engine.RetryInitial,
		MaxInterval:     retry.DefaultPolicy.MaxInterval,
	}

	a.Recorder = events.NewRecorder(repos.events, events.Options{
		BufferSize:   cfg.Engine.EventBufferSize,
		WriteTimeout: cfg.Engine.EventWriteTimeout,
		Logger:       logger.With("component", "events"),
		Metrics:      a.Metrics,
	})
	controller := experiment.NewController(repos.experiments, a.Recorder, experiment.Options{
		CacheSize: cfg.Engine.ExperimentCacheSize,
		CacheTTL:  cfg.Engine.ExperimentCacheTTL,
		Retry:     policy,
		Logger:    logger.With("component", "experiments"),
	})
	store, err := assignment.NewStore(repos.assignments, assignment.Options{
		CacheSize: cfg.Engine.AssignmentCacheSize,
		CacheTTL:  cfg.Engine.AssignmentCacheTTL,
		Retry:     policy,
		Logger:    logger.With("component", "assignments"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Engine = engine.New(controller, store, a.Recorder, engine.Options{
		Logger:  logger.With("component", "engine"),
		Metrics: a.Metrics,
	})
	return a, nil
}

func (a *AppContext) openStore(ctx context.Context) (*stores, error) {
	db := a.Config.Database
	switch db.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, db.PostgresDSN, db.MaxConns)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		if db.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		repos := postgres.NewRepositories(pool)
		return &stores{repos.Experiments, repos.Assignments, repos.Events}, nil

	default:
		driver := turso.DriverSQLite
		if db.Backend == config.BackendLibsql {
			driver = turso.DriverLibsql
		}
		// Periodic replica sync is driven by serve so failures get logged.
		tdb, err := turso.NewDB(turso.Options{
			Driver:      driver,
			URL:         db.URL,
			AuthToken:   db.AuthToken,
			ReplicaPath: db.ReplicaPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = tdb
		if db.AutoMigrate {
			if err := migrate.RunAll(ctx, tdb.DB); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		repos := turso.NewRepositories(tdb.DB)
		return &stores{repos.Experiments, repos.Assignments, repos.Events}, nil
	}
}

// buildMetrics fans out to Prometheus and the OTLP exporter, whichever are
// enabled. A failing OTLP setup is logged and skipped.
func (a *AppContext) buildMetrics(ctx context.Context) ports.MetricsExporter {
	var exporters []ports.MetricsExporter
	if a.Config.Prometheus.Enabled {
		a.Prometheus = prometheus.NewCollector(a.Config.Prometheus)
		exporters = append(exporters, a.Prometheus)
	}
	if a.Config.OTel.Enabled {
		exp, err := otel.NewExporter(ctx, a.Config.OTel)
		if err != nil {
			a.Logger.Warn("OTEL exporter disabled", "error", err)
		} else {
			exporters = append(exporters, exp)
		}
	}

	switch len(exporters) {
	case 0:
		return otel.NewNoOpExporter()
	case 1:
		return exporters[0]
	default:
		return fanout.New(exporters...)
	}
}

// Close drains the event recorder, then releases metrics and the store.
func (a *AppContext) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.Recorder != nil {
		errs = append(errs, a.Recorder.Close(ctx))
	}
	if a.Metrics != nil {
		errs = append(errs, a.Metrics.Close(ctx))
	}
	if a.DB != nil {
		if err := a.DB.Sync(); err != nil {
			a.Logger.Warn("failed to sync replica on close", "error", err)
		}
		errs = append(errs, a.DB.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
