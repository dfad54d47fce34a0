package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/emiliopalmerini/abassign/migrations"
)

// Migration represents a single database migration with up and down SQL.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies the embedded migrations to a SQLite-family database and
// reports progress to Out.
type Migrator struct {
	DB  *sql.DB
	Out io.Writer
}

// New returns a Migrator writing progress to out. A nil out discards it.
func New(db *sql.DB, out io.Writer) *Migrator {
	if out == nil {
		out = io.Discard
	}
	return &Migrator{DB: db, Out: out}
}

// EnsureMigrationsTable creates the schema_migrations table if it doesn't exist.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// CurrentVersion returns the current migration version and dirty state.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, bool, error) {
	var version, dirty int
	err := m.DB.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty == 1, nil
}

// SetVersion sets the migration version and dirty state.
func (m *Migrator) SetVersion(ctx context.Context, version int, dirty bool) error {
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}

	if _, err := m.DB.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version > 0 {
		_, err := m.DB.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirtyInt)
		return err
	}
	return nil
}

// LoadMigrations reads all embedded migration files and returns them sorted by version.
func LoadMigrations() ([]Migration, error) {
	var result []Migration

	upPattern := regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

	err := fs.WalkDir(migrations.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := upPattern.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			return nil
		}

		version, _ := strconv.Atoi(matches[1])
		name := matches[2]

		upSQL, err := fs.ReadFile(migrations.FS, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		downSQL, err := fs.ReadFile(migrations.FS, fmt.Sprintf("%s_%s.down.sql", matches[1], name))
		if err != nil {
			downSQL = nil
		}

		result = append(result, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// Run executes a single migration (up or down).
func (m *Migrator) Run(ctx context.Context, mig Migration, up bool) error {
	direction := "up"
	sqlContent := mig.UpSQL
	targetVersion := mig.Version
	if !up {
		direction = "down"
		sqlContent = mig.DownSQL
		targetVersion = mig.Version - 1
	}

	fmt.Fprintf(m.Out, "  %s %03d_%s...\n", direction, mig.Version, mig.Name)

	if err := m.SetVersion(ctx, mig.Version, true); err != nil {
		return fmt.Errorf("failed to set dirty flag: %w", err)
	}

	for _, stmt := range SplitSQL(sqlContent) {
		if _, err := m.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d %s: %w\nSQL: %s", mig.Version, direction, err, stmt)
		}
	}

	if err := m.SetVersion(ctx, targetVersion, false); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	return nil
}

// SplitSQL splits a SQL script on semicolons and drops empty statements.
func SplitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (m *Migrator) prepare(ctx context.Context) (int, []Migration, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, dirty, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return 0, nil, fmt.Errorf("database is in dirty state at version %d", current)
	}

	all, err := LoadMigrations()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return current, all, nil
}

// Up runs all pending up migrations.
func (m *Migrator) Up(ctx context.Context) error {
	_, all, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return m.UpTo(ctx, 0)
	}
	return m.UpTo(ctx, all[len(all)-1].Version)
}

// UpTo runs up migrations until target is reached.
func (m *Migrator) UpTo(ctx context.Context, target int) error {
	current, all, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, mig := range all {
		if mig.Version <= current {
			continue
		}
		if mig.Version > target {
			break
		}
		if err := m.Run(ctx, mig, true); err != nil {
			return err
		}
		count++
	}

	if count == 0 {
		fmt.Fprintln(m.Out, "No migrations to run")
		return nil
	}
	version, _, _ := m.CurrentVersion(ctx)
	fmt.Fprintf(m.Out, "Migrated to version %d (%d migrations applied)\n", version, count)
	return nil
}

// DownTo rolls back migrations until target is reached.
func (m *Migrator) DownTo(ctx context.Context, target int) error {
	current, all, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	for i := len(all) - 1; i >= 0; i-- {
		mig := all[i]
		if mig.Version > current {
			continue
		}
		if mig.Version <= target {
			break
		}
		if mig.DownSQL == "" {
			return fmt.Errorf("no down migration for version %d", mig.Version)
		}
		if err := m.Run(ctx, mig, false); err != nil {
			return err
		}
	}

	fmt.Fprintf(m.Out, "Migrated to version %d\n", target)
	return nil
}

// RunAll runs all pending migrations on db without reporting progress.
func RunAll(ctx context.Context, db *sql.DB) error {
	return New(db, nil).Up(ctx)
}
