package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"modernc.org/sqlite"
)

// ErrStorageUnavailable is returned when no persistent storage can be opened.
// Callers degrade to network-only mode instead of failing.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrVersionTooNew is returned when the file was written by a newer schema.
var ErrVersionTooNew = errors.New("store version is newer than requested")

// SQLite primary result codes that mean the file itself cannot be used.
const (
	sqlitePerm     = 3
	sqliteReadOnly = 8
	sqliteIOErr    = 10
	sqliteCorrupt  = 11
	sqliteFull     = 13
	sqliteCantOpen = 14
	sqliteNotADB   = 26
)

// Store is the long-lived handle to the local cache. It is safe for concurrent use.
type Store struct {
	db          *sql.DB
	path        string
	collections map[string]Collection

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Open opens or creates the store at path and brings it up to schema.Version,
// calling schema.Migrate once if the file is older.
func Open(ctx context.Context, path string, schema Schema) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no store path configured", ErrStorageUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// One connection keeps pragmas in effect and serializes SQLite writers.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, classifyOpenError(err)
		}
	}

	if err := upgrade(ctx, conn, schema); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Store{
		db:          conn,
		path:        path,
		collections: map[string]Collection{},
		locks:       map[string]*sync.RWMutex{},
	}
	for _, c := range schema.Collections {
		s.collections[c.Name] = c
		s.locks[c.Name] = &sync.RWMutex{}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Version reads the schema version recorded in the file.
func (s *Store) Version(ctx context.Context) (int, error) {
	return userVersion(ctx, s.db)
}

func upgrade(ctx context.Context, conn *sql.DB, schema Schema) error {
	current, err := userVersion(ctx, conn)
	if err != nil {
		return classifyOpenError(err)
	}
	if current > schema.Version {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionTooNew, current, schema.Version)
	}
	if current == schema.Version {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyOpenError(err)
	}
	if schema.Migrate != nil {
		if err := schema.Migrate(ctx, tx, current, schema.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %d -> %d: %w", current, schema.Version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schema.Version)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func userVersion(ctx context.Context, db DBTX) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func classifyOpenError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlitePerm, sqliteReadOnly, sqliteIOErr, sqliteCorrupt, sqliteFull, sqliteCantOpen, sqliteNotADB:
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return err
}
