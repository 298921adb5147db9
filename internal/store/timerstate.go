package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// TimerStateRow is the persisted snapshot for a single calendar day.
type TimerStateRow struct {
	Day                string
	AccumulatedSeconds int64
	State              string
	StartedAt          *int64
	LastUpdatedAt       int64
}

// SaveTimerState upserts the row for day, stamping LastUpdatedAt to now.
// The write happens inside an explicit BEGIN IMMEDIATE transaction so a
// concurrent reader never observes a partially-applied update.
func (s *Store) SaveTimerState(day string, accumulatedSeconds int64, state string, startedAt *int64, now int64) error {
	return s.withLock(func() error {
		if _, err := s.db.Exec(`BEGIN IMMEDIATE`); err != nil {
			return fmt.Errorf("store: begin save timer state: %w", err)
		}

		_, err := s.db.Exec(`
			INSERT INTO timer_state (day, accumulated_seconds, state, started_at, last_updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(day) DO UPDATE SET
				accumulated_seconds = excluded.accumulated_seconds,
				state = excluded.state,
				started_at = excluded.started_at,
				last_updated_at = excluded.last_updated_at
		`, day, accumulatedSeconds, state, startedAt, now)
		if err != nil {
			_, _ = s.db.Exec(`ROLLBACK`)
			return fmt.Errorf("store: save timer state: %w", err)
		}

		if _, err := s.db.Exec(`COMMIT`); err != nil {
			return fmt.Errorf("store: commit save timer state: %w", err)
		}
		return nil
	})
}

// LoadTimerState returns the most recently updated timer_state row, or
// ErrNotFound if the table is empty (first run).
func (s *Store) LoadTimerState() (*TimerStateRow, error) {
	var row TimerStateRow
	err := s.withLock(func() error {
		r := s.db.QueryRow(`
			SELECT day, accumulated_seconds, state, started_at, last_updated_at
			FROM timer_state
			ORDER BY last_updated_at DESC
			LIMIT 1
		`)
		scanErr := r.Scan(&row.Day, &row.AccumulatedSeconds, &row.State, &row.StartedAt, &row.LastUpdatedAt)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("store: load timer state: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}
