// Package db opens the local sqlite database backing VaultSync's
// on-disk history sink (internal/history.SqliteSink), the same way the
// teacher opens its sync journal's sqlite connection. The driver itself
// is selected by build tag in db_sqlite3_cgo.go / db_sqlite3_default.go.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vaultsync/vaultsync/internal/utils"
)

// defaultPragmas favors write concurrency and durability appropriate for a
// single-writer local daemon: WAL lets readers (the status server) run
// alongside the history sink's writer without blocking.
const defaultPragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=8000;
PRAGMA mmap_size=268435456;
`

type options struct {
	path            string
	pragmas         string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// Option configures a sqlite connection opened via NewSqliteDB.
type Option func(*options)

// WithPath sets the database file path. ":memory:" opens a private
// in-memory database, useful in tests.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithPragmas replaces defaultPragmas entirely.
func WithPragmas(pragmas string) Option {
	return func(o *options) { o.pragmas = pragmas }
}

// WithMaxOpenConns bounds the connection pool; 0 leaves it unlimited.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithMaxIdleConns bounds idle pooled connections.
func WithMaxIdleConns(n int) Option {
	return func(o *options) { o.maxIdleConns = n }
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) { o.connMaxLifetime = d }
}

// NewSqliteDB opens (creating if necessary) a sqlite database at the
// configured path, applying pragmas and pool limits before returning.
func NewSqliteDB(opts ...Option) (*sqlx.DB, error) {
	cfg := &options{
		path:         ":memory:",
		pragmas:      defaultPragmas,
		maxOpenConns: 0,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("db: ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	}

	slog.Debug("db: opening sqlite", "driver", driverID, "path", cfg.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.maxIdleConns)
	}
	if cfg.connMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	if _, err := conn.Exec(cfg.pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: set pragmas: %w", err)
	}

	return conn, nil
}
