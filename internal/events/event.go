// Package events fans timer-engine and sync-worker activity out to any
// locally-connected UI over WebSocket, and optionally to Redis Pub/Sub for
// consumers outside the agent process.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type identifies what happened.
type Type string

const (
	TimerStateUpdate     Type = "timer.state_update"
	SystemSleepDetected  Type = "system.sleep_detected"
	SystemWakeDetected   Type = "system.wake_detected"
	SyncCycleCompleted   Type = "sync.cycle_completed"
	SyncTaskFailed       Type = "sync.task_failed"
	AuthTokenRefreshed   Type = "auth.token_refreshed"
	QueueDepthChanged    Type = "queue.depth_changed"
	DBRecoveredFromCorruption Type = "db.recovered_from_corruption"
)

// Event is the envelope pushed to every subscriber, local or remote.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// New builds an Event with the current UTC time.
func New(t Type, data map[string]interface{}) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Publisher is the fan-out surface the timer engine and sync worker push
// events through. The in-process Hub satisfies it directly; RedisMirror
// also satisfies it and is passed to a Hub as its mirror to additionally
// publish events to Redis.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// TimerStateData builds the payload for a TimerStateUpdate event.
func TimerStateData(day, state string, todaySeconds int64, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"day":           day,
		"state":         state,
		"today_seconds": todaySeconds,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// SyncCycleData builds the payload for a SyncCycleCompleted event.
func SyncCycleData(dispatched, succeeded, failed int) map[string]interface{} {
	return map[string]interface{}{
		"dispatched": dispatched,
		"succeeded":  succeeded,
		"failed":     failed,
	}
}
