package timerengine

import (
	"fmt"
	"time"

	"github.com/hubnity/timer-agent/internal/clock"
	"github.com/hubnity/timer-agent/internal/logger"
	"github.com/hubnity/timer-agent/internal/metrics"
)

// ensureCorrectDay checks whether day_start still refers to today's local
// calendar date and triggers rolloverDay if not. Start, Pause, Resume, Stop
// and GetState call it before anything else; ResetDay, HandleSystemSleep
// and HandleSystemWake do not call it themselves.
func (e *Engine) ensureCorrectDay() error {
	e.mu.Lock()
	dayStart := e.dayStart
	e.mu.Unlock()

	wallNow := e.clock.WallNow()
	todayLocal := time.Unix(wallNow, 0).In(time.Local)

	if dayStart == nil {
		e.mu.Lock()
		e.dayStart = &wallNow
		e.mu.Unlock()
		return nil
	}

	savedDayLocal := time.Unix(*dayStart, 0).In(time.Local)
	if isSameLocalDay(savedDayLocal, todayLocal) {
		return nil
	}

	daysDiff := daysBetween(savedDayLocal, todayLocal)
	if daysDiff > 1 {
		logger.WithComponent("timerengine").Warn().Int("days_diff", daysDiff).Msg("day rollover spans more than one calendar day")
	}

	return e.rolloverDay(savedDayLocal, todayLocal)
}

func isSameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.Local)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.Local)
	diff := int(bd.Sub(ad).Hours() / 24)
	if diff < 0 {
		return -diff
	}
	return diff
}

func localMidnight(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local).Unix()
}

// rolloverDay implements the Hubstaff-style rollover: a Running timer is
// never stopped at midnight. Instead the fraction of the session that
// belongs to the old day is folded into accumulated, and the in-memory
// session is re-anchored to start exactly at local midnight of the new
// day, so "today" resets to zero while the running session keeps counting
// uninterrupted.
func (e *Engine) rolloverDay(oldDayLocal, newDayLocal time.Time) error {
	e.mu.Lock()
	wasRunning := e.state == StateRunning
	e.mu.Unlock()

	newDayMidnight := localMidnight(newDayLocal)

	if wasRunning {
		e.mu.Lock()
		if e.state != StateRunning {
			e.mu.Unlock()
			return ErrChangedDuringRollover
		}
		startedAtWall := e.startedAtWall
		startedAtMono := e.startedAtMono
		e.mu.Unlock()

		nowSystem := e.clock.WallNow()
		nowInstant := e.clock.MonoNow()

		systemTimeElapsed := clock.SaturatingSub(nowSystem, startedAtWall)
		instantElapsed := clock.Elapsed(startedAtMono, nowInstant)
		clockSkew := abs64(systemTimeElapsed - instantElapsed)

		if clockSkew > clockSkewWarnSeconds {
			logger.WithComponent("timerengine").Warn().Int64("clock_skew_seconds", clockSkew).Msg("clock skew detected during day rollover")
		}

		if startedAtWall < newDayMidnight {
			timeUntilMidnight := newDayMidnight - startedAtWall

			switch {
			case timeUntilMidnight > 24*3600:
				logger.WithComponent("timerengine").Warn().Msg("rollover time-until-midnight exceeds 24h, capping")
				timeUntilMidnight = 24 * 3600
			case clockSkew > clockSkewWarnSeconds && timeUntilMidnight > instantElapsed+clockSkew:
				logger.WithComponent("timerengine").Warn().Msg("wall clock jumped forward faster than monotonic clock during rollover, capping to instant elapsed")
				timeUntilMidnight = instantElapsed
			case systemTimeElapsed < instantElapsed && clockSkew > tscDriftWarnSeconds:
				logger.WithComponent("timerengine").Warn().Msg("monotonic clock ahead of wall clock during rollover, capping")
				if timeUntilMidnight > systemTimeElapsed {
					timeUntilMidnight = systemTimeElapsed
				}
			}

			e.mu.Lock()
			before := e.accumulatedSeconds
			e.accumulatedSeconds = clock.SaturatingAdd(e.accumulatedSeconds, timeUntilMidnight)
			if e.accumulatedSeconds == before && timeUntilMidnight > 0 {
				logger.WithComponent("timerengine").Warn().Msg("accumulated seconds saturated during rollover")
			}
			e.mu.Unlock()
		}

		elapsedInNewDay := clock.SaturatingSub(nowSystem, newDayMidnight)
		newStartedAtMono := nowInstant.Add(-time.Duration(elapsedInNewDay) * time.Second)

		e.mu.Lock()
		e.startedAtWall = newDayMidnight
		e.startedAtMono = newStartedAtMono
		e.mu.Unlock()
	} else {
		e.mu.Lock()
		e.accumulatedSeconds = 0
		e.mu.Unlock()
	}

	e.mu.Lock()
	currentDayStart := e.dayStart
	alreadyRolled := currentDayStart != nil && isSameLocalDay(time.Unix(*currentDayStart, 0).In(time.Local), newDayLocal)
	if alreadyRolled {
		e.mu.Unlock()
		logger.WithComponent("timerengine").Warn().Msg("already rolled over to this day, skipping duplicate rollover")
		return nil
	}
	e.dayStart = &newDayMidnight
	accumulated := e.accumulatedSeconds
	state := e.state
	startedAt := (*int64)(nil)
	if state == StateRunning {
		v := e.startedAtWall
		startedAt = &v
	}
	e.mu.Unlock()

	metrics.RecordDayRollover(wasRunning)

	if err := e.persist(state, accumulated, startedAt); err != nil {
		logger.WithComponent("timerengine").Warn().Err(err).Msg("rollover performed, persistence failed and can be retried")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
