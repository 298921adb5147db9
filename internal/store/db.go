// Package store is the local durable store: one SQLite database holding
// the current timer state per calendar day and the outbound sync queue.
// It is the only component in this module that touches disk directly.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hubnity/timer-agent/internal/logger"
)

// Store wraps a single SQLite connection behind a mutex. SQLite allows
// only one writer at a time; a single shared *sql.DB with a small pool
// already serializes writers, but the explicit mutex also gives us a
// single well-known point to detect and report a poisoned lock instead
// of letting a panic take down the process silently.
type Store struct {
	mu sync.Mutex
	db *sql.DB

	recoveredFromCorruption bool
}

// Open creates or opens the SQLite database at path, enables WAL
// journaling and foreign keys on a best-effort basis, and ensures the
// schema exists. If the existing file fails an integrity check (e.g. a
// crash mid-write left it unreadable), the file is moved aside for
// diagnostics and a fresh database is opened at path in its place;
// RecoveredFromCorruption reports whether that happened so the caller can
// surface a db-recovered-from-corruption event to the UI.
func Open(path string) (*Store, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	recovered := false
	if err := verifyIntegrity(db); err != nil {
		logger.WithComponent("store").Error().Err(err).Str("path", path).Msg("local store failed integrity check, quarantining and starting fresh")
		_ = db.Close()

		quarantined, qErr := quarantineFile(path)
		if qErr != nil {
			return nil, fmt.Errorf("store: quarantine corrupt database at %s: %w", path, qErr)
		}
		logger.WithComponent("store").Warn().Str("quarantined_path", quarantined).Msg("corrupt database preserved for diagnostics")

		db, err = openSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("store: reopen fresh database at %s: %w", path, err)
		}
		recovered = true
	}

	s := &Store{db: db, recoveredFromCorruption: recovered}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openSQLite opens the raw connection and applies the WAL/foreign-keys
// pragmas, without touching schema or integrity.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// SQLite only supports one writer; a single connection avoids
	// SQLITE_BUSY churn under WAL and keeps our own mutex meaningful.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		logger.WithComponent("store").Warn().Err(err).Msg("failed to enable WAL journal mode, continuing without it")
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		logger.WithComponent("store").Warn().Err(err).Msg("failed to enable foreign keys, continuing without them")
	}
	return db, nil
}

// verifyIntegrity runs SQLite's quick_check and treats anything other than
// "ok" (including a query error, e.g. "file is not a database") as
// unrecoverable corruption.
func verifyIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return fmt.Errorf("store: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("store: integrity check failed: %s", result)
	}
	return nil
}

// quarantineFile renames the database file aside so it survives for
// operator diagnostics instead of being silently discarded.
func quarantineFile(path string) (string, error) {
	quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, quarantined); err != nil {
		return "", err
	}
	return quarantined, nil
}

// RecoveredFromCorruption reports whether Open had to discard a corrupt
// database file and start fresh.
func (s *Store) RecoveredFromCorruption() bool {
	return s.recoveredFromCorruption
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withLock recovers a panic raised while the store's mutex is held and
// turns it into ErrStoreUnavailable rather than propagating a fault
// across goroutine boundaries.
func (s *Store) withLock(fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("store").Error().Interface("panic", r).Msg("recovered panic while holding store lock")
			err = ErrStoreUnavailable
		}
	}()
	return fn()
}

func (s *Store) initSchema() error {
	return s.withLock(func() error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS timer_state (
				day TEXT PRIMARY KEY,
				accumulated_seconds INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL,
				started_at INTEGER,
				last_updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				priority INTEGER NOT NULL DEFAULT 2,
				idempotency_key TEXT,
				created_at INTEGER NOT NULL,
				last_retry_at INTEGER,
				error_message TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
			`CREATE INDEX IF NOT EXISTS idx_time_entries_day ON timer_state(day)`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("store: init schema: %w", err)
			}
		}

		// Additive migrations for databases created by an earlier schema
		// version. SQLite has no IF NOT EXISTS for ADD COLUMN, so the
		// "duplicate column name" failure is swallowed.
		migrations := []string{
			`ALTER TABLE sync_queue ADD COLUMN error_message TEXT`,
			`ALTER TABLE sync_queue ADD COLUMN priority INTEGER NOT NULL DEFAULT 2`,
			`ALTER TABLE sync_queue ADD COLUMN idempotency_key TEXT`,
			`ALTER TABLE timer_state ADD COLUMN started_at INTEGER`,
		}
		for _, m := range migrations {
			_, _ = s.db.Exec(m)
		}
		return nil
	})
}
