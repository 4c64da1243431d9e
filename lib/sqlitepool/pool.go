// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/globe-monitor/globe/lib/logging"
)

// DefaultPoolSize is used when Config.PoolSize is not positive. SQLite
// serializes writers, so extra connections only help concurrent readers.
const DefaultPoolSize = 4

// ErrSchemaTooNew is returned by Open when the database was written by
// a binary with more migrations than this one.
var ErrSchemaTooNew = errors.New("sqlitepool: database schema is newer than this binary")

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	PoolSize int

	// Schema lists migration scripts in order. See the package
	// documentation.
	Schema []string

	// OnConnect runs once per connection after the pragmas.
	OnConnect func(conn *sqlite.Conn) error

	Logger *slog.Logger
}

// Pool is a fixed-size pool of prepared SQLite connections. Safe for
// concurrent use; the connections it hands out are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and migrates the schema. The file is created
// if it does not exist.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, errors.New("sqlitepool: Path is required")
	}
	logger := logging.OrDiscard(config.Logger)
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, config.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: config.Path}

	if len(config.Schema) > 0 {
		version, err := pool.migrate(config.Schema)
		if err != nil {
			inner.Close()
			return nil, err
		}
		logger.Debug("sqlite schema ready", "path", config.Path, "user_version", version)
	}

	logger.Info("sqlite pool opened", "path", config.Path, "pool_size", poolSize)
	return pool, nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// Every successful Take must be paired with a Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Path returns the database file the pool was opened on.
func (p *Pool) Path() string {
	return p.path
}

// Close waits for borrowed connections to come back and closes them.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// migrate applies the scripts past the file's user_version and returns
// the resulting version.
func (p *Pool) migrate(schema []string) (int, error) {
	conn, err := p.Take(context.Background())
	if err != nil {
		return 0, err
	}
	defer p.Put(conn)

	version, err := UserVersion(conn)
	if err != nil {
		return 0, err
	}
	if version > len(schema) {
		return version, fmt.Errorf("%w: %s is at version %d, binary knows %d",
			ErrSchemaTooNew, p.path, version, len(schema))
	}
	for ; version < len(schema); version++ {
		if err := applyMigration(conn, schema[version], version+1); err != nil {
			return version, err
		}
		p.logger.Info("sqlite schema migrated", "path", p.path, "user_version", version+1)
	}
	return version, nil
}

func applyMigration(conn *sqlite.Conn, script string, target int) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: migration %d: begin: %w", target, err)
	}
	defer endTransaction(&err)

	if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
		return fmt.Errorf("sqlitepool: migration %d: %w", target, err)
	}
	if err = sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", target), nil); err != nil {
		return fmt.Errorf("sqlitepool: migration %d: set user_version: %w", target, err)
	}
	return nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: read user_version: %w", err)
	}
	return version, nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
