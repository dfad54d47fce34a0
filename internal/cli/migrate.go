package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/abassign/internal/adapters/postgres"
	"github.com/emiliopalmerini/abassign/internal/adapters/turso"
	"github.com/emiliopalmerini/abassign/internal/infrastructure/config"
	"github.com/emiliopalmerini/abassign/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Run database migrations",
	Long: `Run database migrations.

Without arguments, runs all pending migrations (up).
With a version number, migrates to that specific version (up or down as needed).
The postgres backend has a single schema and ignores the version.

Examples:
  abassign migrate           # Run all pending migrations
  abassign migrate 1         # Migrate to version 1
  abassign migrate 0         # Rollback all migrations
  abassign migrate --status  # Print the current version`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

var migrateStatus bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Print the current schema version and exit")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.Backend == config.BackendPostgres {
		pool, err := postgres.NewPool(ctx, cfg.Database.PostgresDSN, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		if migrateStatus {
			fmt.Fprintln(out, "postgres schema is applied idempotently; no versions to report")
			return nil
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(out, "Postgres schema applied")
		return nil
	}

	driver := turso.DriverSQLite
	if cfg.Database.Backend == config.BackendLibsql {
		driver = turso.DriverLibsql
	}
	db, err := turso.NewDB(turso.Options{
		Driver:      driver,
		URL:         cfg.Database.URL,
		AuthToken:   cfg.Database.AuthToken,
		ReplicaPath: cfg.Database.ReplicaPath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	m := migrate.New(db.DB, out)
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	current, dirty, err := m.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d\n", current)
	if migrateStatus {
		if dirty {
			fmt.Fprintln(out, "Database is dirty, manual intervention required")
		}
		return nil
	}

	var migrateErr error
	if len(args) == 0 {
		fmt.Fprintln(out, "Running all pending migrations...")
		migrateErr = m.Up(ctx)
	} else {
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		switch {
		case target > current:
			fmt.Fprintf(out, "Migrating up to version %d...\n", target)
			migrateErr = m.UpTo(ctx, target)
		case target < current:
			fmt.Fprintf(out, "Migrating down to version %d...\n", target)
			migrateErr = m.DownTo(ctx, target)
		default:
			fmt.Fprintln(out, "Already at target version")
		}
	}

	// Push schema changes to the remote primary.
	if err := db.Sync(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to sync migrations to remote: %v\n", err)
	}
	return migrateErr
}
