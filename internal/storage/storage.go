package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

const (
	// IndexDirName is the hidden subdirectory of the graph root that holds
	// the index database. The synchronizer must never watch it.
	IndexDirName = ".grove"
	// IndexFileName is the database file name inside IndexDirName.
	IndexFileName = "graph.db"

	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// Querier is the interface shared by *sql.DB and *sql.Tx. Repositories are
// written against it so the same statements run inside or outside a
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store owns the single database connection for one graph root. All access
// goes through its querier and transaction primitives; the underlying engine
// serializes writers.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the index database for a graph root and
// applies pending migrations.
func Open(graphRoot string) (*Store, error) {
	dir := filepath.Join(graphRoot, IndexDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return OpenPath(filepath.Join(dir, IndexFileName))
}

// OpenPath opens the index database at an explicit path. Use ":memory:" for
// tests.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Querier returns the non-transactional querier.
func (s *Store) Querier() Querier {
	return s.db
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Busy/locked failures are retried a bounded number
// of times with backoff before surfacing.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	var lastErr error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * busyBackoff):
			}
		}

		lastErr = s.runTx(ctx, fn)
		if lastErr == nil || !isBusy(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", busyRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isBusy reports whether err looks like a transient SQLITE_BUSY or
// SQLITE_LOCKED condition. Both supported drivers include the token in the
// error text.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "locked")
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
