package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps items in a single key/value table of a SQLite database
// at DATA_DIR/accstore.db.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool

	// busyAttempts bounds how often a statement runs while another process
	// holds the database lock; the wait starts at busyBackoff and doubles.
	busyAttempts int
	busyBackoff  time.Duration
}

const maxBusyBackoff = time.Second

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// whileBusy runs op until it succeeds, fails with something other than a busy
// error, runs out of attempts or ctx is done. Errors from op are returned
// unwrapped.
func (s *SQLiteStorage) whileBusy(ctx context.Context, op func() error) error {
	wait := s.busyBackoff
	for attempt := 1; ; attempt++ {
		err := op()
		if !isSQLiteBusyError(err) || attempt >= s.busyAttempts {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return multierr.Append(err, ctx.Err())
		case <-timer.C:
		}
		wait = min(2*wait, maxBusyBackoff)
	}
}

// NewSQLiteStorage opens (creating if needed) the database under baseDir.
func NewSQLiteStorage(ctx context.Context, baseDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(baseDir, "accstore.db")

	// https://www.sqlite.org/pragma.html#pragma_journal_mode
	// https://www.sqlite.org/pragma.html#pragma_synchronous
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(1000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, multierr.Append(fmt.Errorf("could not create local_storage table: %w", err), db.Close())
	}

	return &SQLiteStorage{
		db:           db,
		path:         path,
		busyAttempts: 6,
		busyBackoff:  10 * time.Millisecond,
	}, nil
}

// Path returns the database file.
func (s *SQLiteStorage) Path() string {
	return s.path
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}

	var value string
	err := s.whileBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read item %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	query := `INSERT INTO local_storage (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	err := s.whileBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, key, value)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to write item %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	err := s.whileBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, key)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to remove item %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL into the main database file and closes the db.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return multierr.Combine(err, s.db.Close())
}

var _ Storage = (*SQLiteStorage)(nil)
