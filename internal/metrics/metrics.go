package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Timer engine metrics
	TimerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeragent_timer_state",
			Help: "Current timer state (0=stopped, 1=running, 2=paused)",
		},
	)

	TimerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_timer_transitions_total",
			Help: "Total number of timer state transitions",
		},
		[]string{"from", "to"},
	)

	DayRollovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_day_rollovers_total",
			Help: "Total number of calendar-day rollovers processed",
		},
		[]string{"was_running"},
	)

	SleepEventsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeragent_sleep_events_detected_total",
			Help: "Total number of system-sleep gaps detected during a state read",
		},
	)

	// Sync queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timeragent_sync_queue_depth",
			Help: "Current number of pending sync tasks by priority",
		},
		[]string{"priority"},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_sync_enqueued_total",
			Help: "Total number of sync tasks enqueued",
		},
		[]string{"entity_type"},
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeragent_sync_queue_evictions_total",
			Help: "Total number of pending normal-priority tasks evicted to make room for critical tasks",
		},
	)

	QueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeragent_sync_queue_rejected_total",
			Help: "Total number of sync enqueue attempts rejected because the queue was full",
		},
	)

	// Sync worker metrics
	SyncDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timeragent_sync_dispatch_duration_seconds",
			Help:    "Duration of a single sync dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	SyncTasksSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_sync_tasks_synced_total",
			Help: "Total number of sync tasks successfully dispatched",
		},
		[]string{"entity_type"},
	)

	SyncTasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_sync_tasks_failed_total",
			Help: "Total number of sync tasks that failed a dispatch attempt",
		},
		[]string{"entity_type"},
	)

	SyncTokenRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeragent_sync_token_refreshes_total",
			Help: "Total number of access token refreshes triggered by a 401 response",
		},
	)

	SyncLockTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeragent_sync_lock_timeouts_total",
			Help: "Total number of times the sync dispatch lock could not be acquired within its timeout",
		},
	)

	// HTTP control-plane metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeragent_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeragent_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeragent_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTimerTransition records an FSM transition.
func RecordTimerTransition(from, to string) {
	TimerTransitions.WithLabelValues(from, to).Inc()
}

// SetTimerState sets the timer state gauge from an integer encoding.
func SetTimerState(state int) {
	TimerState.Set(float64(state))
}

// RecordDayRollover records a calendar-day rollover.
func RecordDayRollover(wasRunning bool) {
	label := "false"
	if wasRunning {
		label = "true"
	}
	DayRollovers.WithLabelValues(label).Inc()
}

// RecordSleepDetected records a sleep-gap detection during a state read.
func RecordSleepDetected() {
	SleepEventsDetected.Inc()
}

// UpdateQueueDepth updates the sync queue depth gauge for a priority class.
func UpdateQueueDepth(priority string, depth float64) {
	QueueDepth.WithLabelValues(priority).Set(depth)
}

// RecordEnqueued records a successful sync enqueue.
func RecordEnqueued(entityType string) {
	QueueEnqueued.WithLabelValues(entityType).Inc()
}

// RecordEviction records an eviction of a normal-priority row.
func RecordEviction() {
	QueueEvictions.Inc()
}

// RecordRejected records a rejected enqueue due to a full queue.
func RecordRejected() {
	QueueRejected.Inc()
}

// RecordDispatchCycle records the duration of a dispatch cycle.
func RecordDispatchCycle(duration float64) {
	SyncDispatchDuration.Observe(duration)
}

// RecordSynced records a successfully dispatched sync task.
func RecordSynced(entityType string) {
	SyncTasksSynced.WithLabelValues(entityType).Inc()
}

// RecordSyncFailed records a failed dispatch attempt.
func RecordSyncFailed(entityType string) {
	SyncTasksFailed.WithLabelValues(entityType).Inc()
}

// RecordTokenRefresh records a 401-triggered token refresh.
func RecordTokenRefresh() {
	SyncTokenRefreshes.Inc()
}

// RecordLockTimeout records a dispatch-lock acquisition timeout.
func RecordLockTimeout() {
	SyncLockTimeouts.Inc()
}

// RecordHTTPRequest records a control-plane HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message send.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
