package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool is a fixed-size pool of SQLite connections with the pragmas the
// notes database depends on. WAL mode lets multiple sessions flush
// transcripts concurrently while readers (search tools) stay
// unblocked.
type pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// openPool opens the database file at path, creating it if needed.
// Use ":memory:" with poolSize 1 for tests; each in-memory connection
// is independent, so larger pools would see different databases.
func openPool(path string, poolSize int, logger *slog.Logger, onConnect func(*sqlite.Conn) error) (*pool, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConn(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	logger.Info("notes database opened", "path", path, "pool_size", poolSize)

	return &pool{inner: inner, logger: logger, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", p.path, err)
	}
	p.logger.Info("notes database closed", "path", p.path)
	return nil
}

func prepareConn(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("store: connection setup: %w", err)
		}
	}
	return nil
}
