// Package syncworker drains the durable sync queue against the remote
// time-tracking API: one dispatch cycle per tick, bounded batch sizes, a
// single token-refresh-and-replay on 401, dispatch metrics for every cycle,
// and a cycle-completed event for every cycle that dispatched a task.
package syncworker

import (
	"context"
	"errors"
	"time"

	"github.com/hubnity/timer-agent/internal/apiclient"
	"github.com/hubnity/timer-agent/internal/authholder"
	"github.com/hubnity/timer-agent/internal/events"
	"github.com/hubnity/timer-agent/internal/logger"
	"github.com/hubnity/timer-agent/internal/metrics"
	"github.com/hubnity/timer-agent/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() int64

func systemClock() int64 { return time.Now().Unix() }

// Worker owns the dispatch loop. It is safe to Run at most once; a second
// call while the first is still running blocks on the lock channel until
// LockTimeout elapses, then gives up on that cycle.
type Worker struct {
	store      *store.Store
	client     *apiclient.Client
	auth       *authholder.Holder
	publisher  events.Publisher
	maxRetries int
	lockTimeout time.Duration
	now        Clock

	lock chan struct{} // single-flight: buffered(1), held for the cycle's duration
}

func New(st *store.Store, client *apiclient.Client, auth *authholder.Holder, publisher events.Publisher, maxRetries int, lockTimeout time.Duration) *Worker {
	w := &Worker{
		store:       st,
		client:      client,
		auth:        auth,
		publisher:   publisher,
		maxRetries:  maxRetries,
		lockTimeout: lockTimeout,
		now:         systemClock,
		lock:        make(chan struct{}, 1),
	}
	w.lock <- struct{}{}
	return w
}

// calculateBatchSize scales the dispatch batch to the current pending
// depth: small queues get small batches (cheap, low latency to empty),
// large backlogs get bigger batches to drain faster.
func calculateBatchSize(pending int) int {
	switch {
	case pending <= 20:
		return 5
	case pending <= 100:
		return 20
	case pending <= 500:
		return 50
	default:
		return 100
	}
}

// Run ticks the dispatch loop every interval until ctx is canceled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single dispatch cycle. It is exported so the control
// API's POST /v1/sync/run can trigger an out-of-band cycle.
func (w *Worker) RunOnce(ctx context.Context) {
	select {
	case <-w.lock:
		defer func() { w.lock <- struct{}{} }()
	case <-time.After(w.lockTimeout):
		metrics.RecordLockTimeout()
		logger.WithComponent("syncworker").Warn().Msg("dispatch cycle skipped, lock timeout")
		return
	case <-ctx.Done():
		return
	}

	start := time.Now()
	dispatched, succeeded, failed := w.dispatchBatch(ctx)
	metrics.RecordDispatchCycle(time.Since(start).Seconds())

	if dispatched > 0 {
		_ = w.publisher.Publish(ctx, events.New(events.SyncCycleCompleted, events.SyncCycleData(dispatched, succeeded, failed)))
	}
}

func (w *Worker) dispatchBatch(ctx context.Context) (dispatched, succeeded, failed int) {
	if _, err := w.auth.AccessToken(); err != nil {
		return 0, 0, 0
	}

	pending, err := w.store.GetPendingCount()
	if err != nil {
		logger.WithComponent("syncworker").Error().Err(err).Msg("failed to read pending count")
		return 0, 0, 0
	}
	if pending == 0 {
		return 0, 0, 0
	}

	batchSize := calculateBatchSize(pending)
	tasks, err := w.store.GetRetryTasks(w.maxRetries, batchSize, w.now())
	if err != nil {
		logger.WithComponent("syncworker").Error().Err(err).Msg("failed to fetch retry tasks")
		return 0, 0, 0
	}

	for _, task := range tasks {
		dispatched++
		if w.dispatchOne(ctx, task) {
			succeeded++
		} else {
			failed++
		}
	}
	return dispatched, succeeded, failed
}

// dispatchOne sends a single task and applies its retry/backoff/DLQ
// outcome. Each task independently gets at most one refresh-and-replay
// chance on a 401; a second 401 for that same task is a normal failure so
// one bad token can't spin the worker in a refresh loop.
func (w *Worker) dispatchOne(ctx context.Context, task store.SyncTask) bool {
	log := logger.WithSyncTask(task.ID)

	accessToken, err := w.auth.AccessToken()
	if err != nil {
		return false
	}

	refreshedOnce := false
	sendErr := w.send(ctx, task, accessToken)
	var statusErr *apiclient.StatusError
	if sendErr != nil && errors.As(sendErr, &statusErr) && statusErr.Code == 401 && !refreshedOnce {
		refreshedOnce = true
		if refreshed := w.tryRefresh(ctx); refreshed {
			accessToken, _ = w.auth.AccessToken()
			sendErr = w.send(ctx, task, accessToken)
		}
	}

	if sendErr == nil {
		w.markSent(task.ID)
		metrics.RecordSynced(task.EntityType)
		return true
	}

	log.Warn().Err(sendErr).Int("retry_count", task.RetryCount).Msg("sync task dispatch failed")
	metrics.RecordSyncFailed(task.EntityType)

	errMsg := sendErr.Error()
	nextRetry := task.RetryCount + 1
	status := "pending"
	if nextRetry >= w.maxRetries {
		status = "failed"
	}
	if updErr := w.store.UpdateSyncStatusWithError(task.ID, status, nextRetry, w.now(), &errMsg); updErr != nil {
		log.Error().Err(updErr).Msg("failed to record sync task failure")
	}
	return false
}

func (w *Worker) send(ctx context.Context, task store.SyncTask, accessToken string) error {
	return w.client.Dispatch(ctx, task.EntityType, []byte(task.Payload), accessToken, task.IdempotencyKey)
}

func (w *Worker) tryRefresh(ctx context.Context) bool {
	refreshToken := w.auth.RefreshToken()
	if refreshToken == nil {
		return false
	}
	result, err := w.auth.Refresh(ctx, *refreshToken)
	if err != nil {
		logger.WithComponent("syncworker").Warn().Err(err).Msg("token refresh failed")
		return false
	}
	newRefresh := result.RefreshToken
	if newRefresh == nil {
		newRefresh = refreshToken
	}
	w.auth.SetTokens(&result.AccessToken, newRefresh)
	metrics.RecordTokenRefresh()
	return true
}

// markSent retries the mark-sent write up to 3 times: losing this write
// after a successful remote dispatch would re-send an already-accepted
// task on the next cycle.
func (w *Worker) markSent(id int64) {
	backoffs := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	var err error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		if err = w.store.MarkTaskSent(id); err == nil {
			return
		}
		if attempt < len(backoffs) {
			time.Sleep(backoffs[attempt])
		}
	}
	logger.WithSyncTask(id).Error().Err(err).Msg("failed to mark task sent after retries")
}
