// Package timerengine implements the Stopped/Running/Paused timer state
// machine: wall-clock/monotonic-clock reconciliation, sleep detection, and
// calendar-day rollover at local midnight, all backed by the local store.
package timerengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/hubnity/timer-agent/internal/clock"
	"github.com/hubnity/timer-agent/internal/logger"
	"github.com/hubnity/timer-agent/internal/metrics"
	"github.com/hubnity/timer-agent/internal/store"
)

const (
	sleepGapThresholdSeconds = 5 * 60
	maxRecursionDepth        = 3
	clockSkewWarnSeconds     = 60
	tscDriftWarnSeconds      = 5
	isoDayLayout             = "2006-01-02"
)

// EventSink receives engine notifications. Both methods must return
// promptly and never block on I/O; the engine calls them with no lock
// held.
type EventSink interface {
	PublishTimerStateUpdate(TimerStateForAPI)
	PublishSystemSleepDetected()
}

// TimerStateForAPI is the read-only snapshot returned by GetState.
type TimerStateForAPI struct {
	State               string
	ElapsedSeconds       int64
	AccumulatedSeconds   int64
	TodaySeconds         int64
	SessionStart         *int64
	IsSleepDetected      bool
	RestoredFromRunning  bool
	DayStart             *int64
}

// Engine is the timer finite state machine. All fields are guarded by mu;
// a single mutex is used (rather than one lock per field) so there is, by
// construction, no lock-ordering hazard to reason about. I/O (persistence,
// event publication) always happens with mu released.
type Engine struct {
	clock clock.Clock
	store *store.Store
	sink  EventSink

	mu                  sync.Mutex
	state               State
	accumulatedSeconds  int64
	startedAtWall       int64
	startedAtMono       time.Time
	dayStart            *int64
	restoredFromRunning bool
}

// New constructs an Engine and restores its last persisted state from
// store, if any. A timer found Running at restore time is not resumed
// automatically; it is reported via restoredFromRunning so the caller can
// decide whether to resume or leave it paused-in-place.
func New(clk clock.Clock, st *store.Store, sink EventSink) (*Engine, error) {
	e := &Engine{
		clock: clk,
		store: st,
		sink:  sink,
		state: StateStopped,
	}

	row, err := st.LoadTimerState()
	if err != nil {
		if err == store.ErrNotFound {
			return e, nil
		}
		return nil, fmt.Errorf("timerengine: restore: %w", err)
	}

	now := clk.WallNow()
	today := time.Unix(now, 0).In(time.Local).Format(isoDayLayout)
	if row.Day != today {
		// Persisted row belongs to a stale calendar day; discard it and
		// start fresh rather than carrying yesterday's numbers forward
		// under today's label.
		logger.WithComponent("timerengine").Info().
			Str("persisted_day", row.Day).Str("today", today).
			Msg("discarding stale persisted timer row on restore")
		metrics.SetTimerState(int(e.state))
		return e, nil
	}

	e.accumulatedSeconds = row.AccumulatedSeconds
	persistedState := ParseState(row.State)

	if persistedState == StateRunning && row.StartedAt != nil {
		startedAt := normalizeStartedAt(*row.StartedAt)
		elapsedSinceSave := now - startedAt
		switch {
		case now < startedAt:
			logger.WithComponent("timerengine").Warn().
				Int64("now", now).Int64("started_at", startedAt).
				Msg("clock skew detected on restore: wall clock moved backwards, accumulated left unchanged")
		case elapsedSinceSave > 24*3600:
			logger.WithComponent("timerengine").Warn().
				Int64("elapsed_since_save", elapsedSinceSave).
				Msg("implausible restore gap (>24h): accumulated left unchanged")
		default:
			e.accumulatedSeconds = clock.SaturatingAdd(e.accumulatedSeconds, elapsedSinceSave)
		}
		e.restoredFromRunning = true
	}

	// A restored Running session is never resumed automatically; it is
	// always demoted to Paused and surfaced via restoredFromRunning so the
	// caller can decide whether to resume it.
	if persistedState == StateRunning {
		e.state = StatePaused
		e.restoredFromRunning = true
	} else {
		e.state = persistedState
	}

	dayStart := dayStartFromRow(row)
	e.dayStart = dayStart

	metrics.SetTimerState(int(e.state))
	return e, nil
}

// normalizeStartedAt treats values below 10^12 as unix seconds and anything
// larger as unix milliseconds, matching the heuristic migration the stored
// started_at value may need depending on which build wrote it.
func normalizeStartedAt(v int64) int64 {
	if v >= 1_000_000_000_000 {
		return v / 1000
	}
	return v
}

func dayStartFromRow(row *store.TimerStateRow) *int64 {
	// The day label is derived from the row's day key at load time; we
	// recompute day_start as local midnight of that day so ensureCorrectDay
	// has a timestamp to compare against on the very next call.
	t, err := time.ParseInLocation(isoDayLayout, row.Day, time.Local)
	if err != nil {
		return nil
	}
	ts := t.Unix()
	return &ts
}

func (e *Engine) currentDayLabel(dayStartTS int64) string {
	return time.Unix(dayStartTS, 0).In(time.Local).Format(isoDayLayout)
}

func (e *Engine) persist(state State, accumulated int64, startedAt *int64) error {
	e.mu.Lock()
	dayStart := e.dayStart
	e.mu.Unlock()

	dayLabel := time.Now().In(time.Local).Format(isoDayLayout)
	if dayStart != nil {
		dayLabel = e.currentDayLabel(*dayStart)
	}
	now := e.clock.WallNow()
	if err := e.store.SaveTimerState(dayLabel, accumulated, state.String(), startedAt, now); err != nil {
		logger.WithComponent("timerengine").Error().Err(err).Msg("failed to persist timer state")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Start transitions Stopped->Running or Paused->Running.
func (e *Engine) Start() error {
	if err := e.ensureCorrectDay(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped, StatePaused:
		if e.dayStart == nil {
			now := e.clock.WallNow()
			e.dayStart = &now
		}
		wallNow := e.clock.WallNow()
		monoNow := e.clock.MonoNow()
		accumulated := e.accumulatedSeconds
		e.state = StateRunning
		e.startedAtWall = wallNow
		e.startedAtMono = monoNow
		e.mu.Unlock()

		err := e.persist(StateRunning, accumulated, &wallNow)

		e.mu.Lock()
		e.restoredFromRunning = false
		e.mu.Unlock()

		if err != nil {
			return err
		}
		metrics.RecordTimerTransition("stopped_or_paused", "running")
		metrics.SetTimerState(int(StateRunning))
		e.notifyState()
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("timerengine: unknown state")
	}
}

// sessionElapsed computes the elapsed time since startedAtWall/startedAtMono,
// optionally overridden (and re-clamped) by the caller-supplied work-elapsed
// value, plus the raw wall/mono elapsed readings used to decide that clamp.
func (e *Engine) sessionElapsed(workElapsedOverride *int64) (sessionElapsed, wallElapsed, monoElapsed int64) {
	wallNow := e.clock.WallNow()
	monoNow := e.clock.MonoNow()

	wallElapsed = clock.SaturatingSub(wallNow, e.startedAtWall)
	monoElapsed = clock.Elapsed(e.startedAtMono, monoNow)

	base := wallElapsed
	if monoElapsed < base {
		base = monoElapsed
	}

	sessionElapsed = base
	if workElapsedOverride != nil {
		sessionElapsed = *workElapsedOverride
		if sessionElapsed > base {
			sessionElapsed = base
		}
	}
	return sessionElapsed, wallElapsed, monoElapsed
}

// pauseInternal implements the shared body of Pause and
// PauseWithWorkElapsed.
func (e *Engine) pauseInternal(workElapsedOverride *int64) error {
	if err := e.ensureCorrectDay(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.state {
	case StatePaused:
		e.mu.Unlock()
		return ErrAlreadyPaused
	case StateStopped:
		e.mu.Unlock()
		return ErrCannotPauseStopped
	case StateRunning:
		sessionElapsed, _, _ := e.sessionElapsed(workElapsedOverride)
		newAccumulated := clock.SaturatingAdd(e.accumulatedSeconds, sessionElapsed)

		// Demote state in memory before persisting; the accumulated cell
		// is only committed once the persisted value is durable.
		e.state = StatePaused
		e.mu.Unlock()

		err := e.persist(StatePaused, newAccumulated, nil)

		e.mu.Lock()
		if err == nil {
			e.accumulatedSeconds = newAccumulated
		}
		e.mu.Unlock()

		if err != nil {
			return err
		}
		metrics.RecordTimerTransition("running", "paused")
		metrics.SetTimerState(int(StatePaused))
		e.notifyState()
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("timerengine: unknown state")
	}
}

// Pause transitions Running->Paused.
func (e *Engine) Pause() error {
	return e.pauseInternal(nil)
}

// PauseWithWorkElapsed is Pause, but the caller supplies its own measurement
// of productive elapsed time (e.g. from an activity monitor), clamped to
// never exceed the engine's own wall/mono reading.
func (e *Engine) PauseWithWorkElapsed(workElapsedSeconds int64) error {
	return e.pauseInternal(&workElapsedSeconds)
}

// Resume transitions Paused->Running.
func (e *Engine) Resume() error {
	if err := e.ensureCorrectDay(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		e.mu.Unlock()
		return ErrCannotResumeStopped
	case StatePaused:
		wallNow := e.clock.WallNow()
		monoNow := e.clock.MonoNow()
		accumulated := e.accumulatedSeconds
		e.state = StateRunning
		e.startedAtWall = wallNow
		e.startedAtMono = monoNow
		e.mu.Unlock()

		err := e.persist(StateRunning, accumulated, &wallNow)

		e.mu.Lock()
		e.restoredFromRunning = false
		e.mu.Unlock()

		if err != nil {
			return err
		}
		metrics.RecordTimerTransition("paused", "running")
		metrics.SetTimerState(int(StateRunning))
		e.notifyState()
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("timerengine: unknown state")
	}
}

// Stop transitions Running->Stopped or Paused->Stopped.
func (e *Engine) Stop() error {
	if err := e.ensureCorrectDay(); err != nil {
		return err
	}
	return e.stopInternal()
}

// stopInternal performs the stop transition without a day check; Stop runs
// ensureCorrectDay before calling it.
func (e *Engine) stopInternal() error {
	e.mu.Lock()
	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		return ErrAlreadyStopped
	case StateRunning:
		sessionElapsed, _, _ := e.sessionElapsed(nil)
		newAccumulated := clock.SaturatingAdd(e.accumulatedSeconds, sessionElapsed)

		e.state = StateStopped
		e.restoredFromRunning = false
		e.mu.Unlock()

		err := e.persist(StateStopped, newAccumulated, nil)

		e.mu.Lock()
		if err == nil {
			e.accumulatedSeconds = newAccumulated
		}
		e.mu.Unlock()

		if err != nil {
			return err
		}
		metrics.RecordTimerTransition("running", "stopped")
		metrics.SetTimerState(int(StateStopped))
		e.notifyState()
		return nil
	case StatePaused:
		accumulated := e.accumulatedSeconds
		e.state = StateStopped
		e.restoredFromRunning = false
		e.mu.Unlock()

		if err := e.persist(StateStopped, accumulated, nil); err != nil {
			return err
		}
		metrics.RecordTimerTransition("paused", "stopped")
		metrics.SetTimerState(int(StateStopped))
		e.notifyState()
		return nil
	default:
		e.mu.Unlock()
		return fmt.Errorf("timerengine: unknown state")
	}
}

// ResetDay stops a Running timer first (so no time is silently lost), then
// zeroes accumulated and re-anchors day_start to now.
func (e *Engine) ResetDay() error {
	e.mu.Lock()
	running := e.state == StateRunning
	e.mu.Unlock()

	if running {
		if err := e.Stop(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	now := e.clock.WallNow()
	e.accumulatedSeconds = 0
	e.dayStart = &now
	e.mu.Unlock()

	return e.persist(StateStopped, 0, nil)
}

// HandleSystemSleep pauses a Running timer; it is a no-op for Paused or
// Stopped, matching the idempotent expectation of repeated sleep
// notifications.
func (e *Engine) HandleSystemSleep() error {
	e.mu.Lock()
	running := e.state == StateRunning
	e.mu.Unlock()

	if !running {
		return nil
	}
	metrics.RecordSleepDetected()
	if e.sink != nil {
		e.sink.PublishSystemSleepDetected()
	}
	return e.Pause()
}

// HandleSystemWake never auto-resumes a paused timer; it only persists the
// current state and logs the wake for observability.
func (e *Engine) HandleSystemWake() error {
	e.mu.Lock()
	state := e.state
	accumulated := e.accumulatedSeconds
	var startedAt *int64
	if state == StateRunning {
		startedAt = &e.startedAtWall
	}
	e.mu.Unlock()

	logger.WithComponent("timerengine").Info().Msg("system wake observed")
	return e.persist(state, accumulated, startedAt)
}

// GetState returns a point-in-time snapshot, transparently handling sleep
// detection on a Running read.
func (e *Engine) GetState() (TimerStateForAPI, error) {
	return e.getStateInternal(0)
}

func (e *Engine) getStateInternal(depth int) (TimerStateForAPI, error) {
	if depth > maxRecursionDepth {
		return TimerStateForAPI{}, ErrMaxRecursionDepth
	}

	if err := e.ensureCorrectDay(); err != nil {
		return TimerStateForAPI{}, err
	}

	e.mu.Lock()
	state := e.state
	accumulated := e.accumulatedSeconds
	dayStart := e.dayStart
	startedAtWall := e.startedAtWall
	restoredFromRunning := e.restoredFromRunning
	wallNow := e.clock.WallNow()

	var elapsed int64
	isSleep := false
	needsSleepHandling := false

	if state == StateRunning {
		sessionElapsed, wallElapsed, monoElapsed := e.sessionElapsed(nil)
		isSleep = wallElapsed > monoElapsed && (wallElapsed-monoElapsed) >= sleepGapThresholdSeconds
		elapsed = clock.SaturatingAdd(accumulated, sessionElapsed)
		needsSleepHandling = isSleep
	} else {
		elapsed = accumulated
	}
	e.mu.Unlock()

	if needsSleepHandling {
		if err := e.HandleSystemSleep(); err != nil {
			return TimerStateForAPI{}, err
		}
		result, err := e.getStateInternal(depth + 1)
		if err != nil {
			return TimerStateForAPI{}, err
		}
		result.IsSleepDetected = true
		return result, nil
	}

	var todaySeconds int64
	if state == StateRunning {
		rolledOver := dayStart != nil && startedAtWall == *dayStart
		if rolledOver {
			todaySeconds = clock.SaturatingSub(wallNow, *dayStart)
		} else {
			todaySeconds = elapsed
		}
	} else {
		todaySeconds = accumulated
	}

	var sessionStart *int64
	if state == StateRunning {
		v := startedAtWall
		sessionStart = &v
	}

	result := TimerStateForAPI{
		State:               state.String(),
		ElapsedSeconds:      elapsed,
		AccumulatedSeconds:  accumulated,
		TodaySeconds:        todaySeconds,
		SessionStart:        sessionStart,
		IsSleepDetected:     isSleep,
		RestoredFromRunning: restoredFromRunning,
		DayStart:            dayStart,
	}
	return result, nil
}

func (e *Engine) notifyState() {
	if e.sink == nil {
		return
	}
	state, err := e.getStateInternal(0)
	if err != nil {
		return
	}
	e.sink.PublishTimerStateUpdate(state)
}
