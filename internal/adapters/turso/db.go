package turso

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	"github.com/emiliopalmerini/abassign/internal/util"
)

type Driver string

const (
	// DriverLibsql talks to Turso/libsql-server, either remotely or through an
	// embedded replica.
	DriverLibsql Driver = "libsql"
	// DriverSQLite opens a local file with the pure Go SQLite driver.
	DriverSQLite Driver = "sqlite"
)

// Options configures NewDB.
type Options struct {
	Driver    Driver
	URL       string
	AuthToken string
	// ReplicaPath enables an embedded replica of a remote libsql primary.
	ReplicaPath  string
	SyncInterval time.Duration
	Ping         bool
}

// DB wraps the connection pool. When running as an embedded replica it also
// owns the connector used for syncing.
type DB struct {
	*sql.DB
	connector *libsql.Connector
}

// NewDB opens the database described by opts.
func NewDB(opts Options) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch opts.Driver {
	case "", DriverLibsql:
		db, err = openLibsql(opts)
	case DriverSQLite:
		db, err = openSQLite(opts)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.Ping {
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}
	return db, nil
}

func openLibsql(opts Options) (*DB, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database URL is required for the libsql driver")
	}

	if opts.ReplicaPath != "" && isRemote(opts.URL) {
		if err := os.MkdirAll(filepath.Dir(opts.ReplicaPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create replica directory: %w", err)
		}
		connOpts := []libsql.Option{libsql.WithAuthToken(opts.AuthToken)}
		if opts.SyncInterval > 0 {
			connOpts = append(connOpts, libsql.WithSyncInterval(opts.SyncInterval))
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(opts.ReplicaPath, opts.URL, connOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded replica: %w", err)
		}
		return &DB{DB: sql.OpenDB(connector), connector: connector}, nil
	}

	connStr := opts.URL
	if opts.AuthToken != "" {
		connStr += "?authToken=" + opts.AuthToken
	}
	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isRemote(opts.URL) {
		// Turso closes idle Hrana streams aggressively; stale pooled
		// connections surface as "stream not found".
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(0)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(0)
	}
	return &DB{DB: db}, nil
}

func openSQLite(opts Options) (*DB, error) {
	path := opts.URL
	if path == "" {
		dir, err := util.GetXDGDataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "abassign.db")
	}

	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	} else {
		path = strings.TrimPrefix(path, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open(string(DriverSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps an in-memory
	// database alive and avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	return &DB{DB: db}, nil
}

func isRemote(url string) bool {
	for _, scheme := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// Sync pulls the latest frames from the primary when running as an embedded
// replica. It is a no-op otherwise.
func (d *DB) Sync() error {
	if d.connector == nil {
		return nil
	}
	if _, err := d.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync replica: %w", err)
	}
	return nil
}

// Close closes the pool and the replica connector.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.connector != nil {
		if cerr := d.connector.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
