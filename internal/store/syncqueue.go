package store

import (
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/hubnity/timer-agent/internal/logger"
)

const (
	maxQueueSize       = 10000
	idempotencyWindowSecs = 5
	evictionBatchSize  = 10
)

// SyncTask is a single row of the outbound sync queue.
type SyncTask struct {
	ID             int64
	EntityType     string
	Payload        string
	Status         string
	RetryCount     int
	Priority       int
	IdempotencyKey string
	CreatedAt      int64
	LastRetryAt    *int64
	ErrorMessage   *string
}

// QueueStats summarizes the current sync queue for introspection.
type QueueStats struct {
	PendingCount int
	FailedCount  int
	SentCount    int
	PendingByType map[string]int
}

// idempotencyKey hashes entity_type+payload with a fixed, non-cryptographic
// hash (FNV-1a). The key is stored with the row and sent to the remote API
// as the X-Idempotency-Key header.
func idempotencyKey(entityType, payload string) string {
	h := fnv.New64a()
	h.Write([]byte(entityType))
	h.Write([]byte(payload))
	return fmt.Sprintf("%s-%x", entityType, h.Sum64())
}

// EnqueueSync inserts a new sync task, deduplicating against an identical
// pending row created within the last 5 seconds and returning that row's
// id instead of inserting a duplicate. When the queue is at capacity, a
// Critical-priority insert evicts the oldest pending Normal-priority rows
// to make room; any other priority is rejected with ErrQueueFull.
func (s *Store) EnqueueSync(entityType, payload string, priority int, now int64) (id int64, err error) {
	err = s.withLock(func() error {
		if _, execErr := s.db.Exec(`BEGIN IMMEDIATE`); execErr != nil {
			return fmt.Errorf("store: begin enqueue sync: %w", execErr)
		}

		key := idempotencyKey(entityType, payload)

		var dupCount int
		if scanErr := s.db.QueryRow(`
			SELECT COUNT(*) FROM sync_queue
			WHERE entity_type = ? AND payload = ? AND status = 'pending' AND created_at > ?
		`, entityType, payload, now-idempotencyWindowSecs).Scan(&dupCount); scanErr != nil {
			_, _ = s.db.Exec(`ROLLBACK`)
			return fmt.Errorf("store: enqueue dedup check: %w", scanErr)
		}

		if dupCount > 0 {
			var existingID int64
			if scanErr := s.db.QueryRow(`
				SELECT id FROM sync_queue
				WHERE entity_type = ? AND payload = ? AND status = 'pending'
				ORDER BY created_at DESC LIMIT 1
			`, entityType, payload).Scan(&existingID); scanErr != nil {
				_, _ = s.db.Exec(`ROLLBACK`)
				return fmt.Errorf("store: enqueue dedup lookup: %w", scanErr)
			}
			if _, execErr := s.db.Exec(`COMMIT`); execErr != nil {
				return fmt.Errorf("store: commit dedup read: %w", execErr)
			}
			id = existingID
			return nil
		}

		var queueSize int
		if scanErr := s.db.QueryRow(`
			SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'failed')
		`).Scan(&queueSize); scanErr != nil {
			_, _ = s.db.Exec(`ROLLBACK`)
			return fmt.Errorf("store: enqueue size check: %w", scanErr)
		}

		if queueSize >= maxQueueSize {
			if priority != 0 {
				_, _ = s.db.Exec(`ROLLBACK`)
				return ErrQueueFull
			}
			if _, execErr := s.db.Exec(`
				DELETE FROM sync_queue WHERE id IN (
					SELECT id FROM sync_queue
					WHERE status = 'pending' AND priority = 2
					ORDER BY created_at ASC LIMIT ?
				)
			`, evictionBatchSize); execErr != nil {
				_, _ = s.db.Exec(`ROLLBACK`)
				return fmt.Errorf("store: enqueue eviction: %w", execErr)
			}
			logger.WithComponent("store").Warn().Str("entity_type", entityType).Msg("sync queue full, evicted oldest pending normal-priority tasks to admit critical task")
		}

		res, execErr := s.db.Exec(`
			INSERT INTO sync_queue (entity_type, payload, status, created_at, priority, idempotency_key)
			VALUES (?, ?, 'pending', ?, ?, ?)
		`, entityType, payload, now, priority, key)
		if execErr != nil {
			_, _ = s.db.Exec(`ROLLBACK`)
			return fmt.Errorf("store: enqueue insert: %w", execErr)
		}

		if _, execErr := s.db.Exec(`COMMIT`); execErr != nil {
			return fmt.Errorf("store: commit enqueue: %w", execErr)
		}

		insertedID, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("store: enqueue last insert id: %w", idErr)
		}
		id = insertedID
		return nil
	})
	return id, err
}

// GetRetryTasks returns up to batchSize pending tasks whose retry_count is
// below maxRetries and whose backoff window has elapsed, ordered by
// priority then age. The backoff step is 10/20/40/80/120 seconds for
// retry_count 0/1/2/3/>=4.
func (s *Store) GetRetryTasks(maxRetries, batchSize int, now int64) ([]SyncTask, error) {
	var tasks []SyncTask
	err := s.withLock(func() error {
		rows, queryErr := s.db.Query(`
			SELECT id, entity_type, payload, retry_count, priority, idempotency_key, status, created_at, last_retry_at, error_message
			FROM sync_queue
			WHERE status = 'pending'
			  AND retry_count < ?
			  AND (last_retry_at IS NULL OR last_retry_at + CASE
				WHEN retry_count = 0 THEN 10
				WHEN retry_count = 1 THEN 20
				WHEN retry_count = 2 THEN 40
				WHEN retry_count = 3 THEN 80
				ELSE 120
			  END <= ?)
			ORDER BY priority ASC, created_at ASC
			LIMIT ?
		`, maxRetries, now, batchSize)
		if queryErr != nil {
			return fmt.Errorf("store: get retry tasks: %w", queryErr)
		}
		defer rows.Close()

		for rows.Next() {
			var t SyncTask
			var idempotencyKey sql.NullString
			if scanErr := rows.Scan(&t.ID, &t.EntityType, &t.Payload, &t.RetryCount, &t.Priority, &idempotencyKey, &t.Status, &t.CreatedAt, &t.LastRetryAt, &t.ErrorMessage); scanErr != nil {
				return fmt.Errorf("store: scan retry task: %w", scanErr)
			}
			t.IdempotencyKey = idempotencyKey.String
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	return tasks, err
}

// UpdateSyncStatus updates a task's status and retry_count, stamping
// last_retry_at to now. This is what implements the backoff timer for the
// next GetRetryTasks call.
func (s *Store) UpdateSyncStatus(id int64, status string, retryCount int, now int64) error {
	return s.UpdateSyncStatusWithError(id, status, retryCount, now, nil)
}

// UpdateSyncStatusWithError is UpdateSyncStatus plus an optional error
// message recorded for operator visibility.
func (s *Store) UpdateSyncStatusWithError(id int64, status string, retryCount int, now int64, errMsg *string) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			UPDATE sync_queue SET status = ?, retry_count = ?, last_retry_at = ?, error_message = ?
			WHERE id = ?
		`, status, retryCount, now, errMsg, id)
		if err != nil {
			return fmt.Errorf("store: update sync status: %w", err)
		}
		return nil
	})
}

// MarkTaskSent marks a task as successfully delivered.
func (s *Store) MarkTaskSent(id int64) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(`UPDATE sync_queue SET status = 'sent' WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: mark task sent: %w", err)
		}
		return nil
	})
}

// GetPendingCount returns the number of pending sync tasks.
func (s *Store) GetPendingCount() (int, error) {
	return s.countByStatus("pending")
}

// GetFailedCount returns the number of failed sync tasks.
func (s *Store) GetFailedCount() (int, error) {
	return s.countByStatus("failed")
}

func (s *Store) countByStatus(status string) (int, error) {
	var count int
	err := s.withLock(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, status).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("store: count by status: %w", err)
	}
	return count, nil
}

// GetQueueStats summarizes the queue: totals plus a pending breakdown by
// entity type.
func (s *Store) GetQueueStats() (QueueStats, error) {
	stats := QueueStats{PendingByType: map[string]int{}}
	err := s.withLock(func() error {
		if scanErr := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&stats.PendingCount); scanErr != nil {
			return scanErr
		}
		if scanErr := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = 'failed'`).Scan(&stats.FailedCount); scanErr != nil {
			return scanErr
		}
		if scanErr := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = 'sent'`).Scan(&stats.SentCount); scanErr != nil {
			return scanErr
		}

		rows, queryErr := s.db.Query(`
			SELECT entity_type, COUNT(*) FROM sync_queue WHERE status = 'pending' GROUP BY entity_type
		`)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var entityType string
			var count int
			if scanErr := rows.Scan(&entityType, &count); scanErr != nil {
				return scanErr
			}
			stats.PendingByType[entityType] = count
		}
		return rows.Err()
	})
	if err != nil {
		return QueueStats{}, fmt.Errorf("store: queue stats: %w", err)
	}
	return stats, nil
}

// GetFailedTasks returns up to limit failed tasks, most recent first.
func (s *Store) GetFailedTasks(limit int) ([]SyncTask, error) {
	var tasks []SyncTask
	err := s.withLock(func() error {
		rows, queryErr := s.db.Query(`
			SELECT id, entity_type, payload, retry_count, created_at, last_retry_at, error_message
			FROM sync_queue WHERE status = 'failed' ORDER BY created_at DESC LIMIT ?
		`, limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var t SyncTask
			t.Status = "failed"
			if scanErr := rows.Scan(&t.ID, &t.EntityType, &t.Payload, &t.RetryCount, &t.CreatedAt, &t.LastRetryAt, &t.ErrorMessage); scanErr != nil {
				return scanErr
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: get failed tasks: %w", err)
	}
	return tasks, nil
}

// ResetFailedTasks moves up to limit failed tasks (oldest first) back to
// pending with retry_count reset to zero, and returns how many rows were
// affected.
func (s *Store) ResetFailedTasks(limit int, now int64) (int, error) {
	var affected int64
	err := s.withLock(func() error {
		res, execErr := s.db.Exec(`
			UPDATE sync_queue SET status = 'pending', retry_count = 0, last_retry_at = ?
			WHERE status = 'failed' AND id IN (
				SELECT id FROM sync_queue WHERE status = 'failed' ORDER BY created_at ASC LIMIT ?
			)
		`, now, limit)
		if execErr != nil {
			return execErr
		}
		var rowsErr error
		affected, rowsErr = res.RowsAffected()
		return rowsErr
	})
	if err != nil {
		return 0, fmt.Errorf("store: reset failed tasks: %w", err)
	}
	return int(affected), nil
}
