package timerengine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubnity/timer-agent/internal/clock"
	"github.com/hubnity/timer-agent/internal/store"
)

func newTestEngine(t *testing.T, wallSeconds int64) (*Engine, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clock.NewFake(wallSeconds)
	eng, err := New(fake, st, nil)
	require.NoError(t, err)
	return eng, fake
}

// localMidnightUnix returns the unix timestamp for local midnight of the
// day containing t.
func localMidnightUnix(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local).Unix()
}

func TestStartPauseResumeStop(t *testing.T) {
	base := localMidnightUnix(time.Now()) + 3600 // 01:00 local
	eng, fake := newTestEngine(t, base)

	require.NoError(t, eng.Start())
	assert.ErrorIs(t, eng.Start(), ErrAlreadyRunning)

	fake.Advance(30 * time.Second)

	require.NoError(t, eng.Pause())
	assert.ErrorIs(t, eng.Pause(), ErrAlreadyPaused)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
	assert.Equal(t, int64(30), state.ElapsedSeconds)

	require.NoError(t, eng.Resume())
	fake.Advance(10 * time.Second)

	require.NoError(t, eng.Stop())
	assert.ErrorIs(t, eng.Stop(), ErrAlreadyStopped)

	state, err = eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, int64(40), state.ElapsedSeconds)
}

func TestPauseStoppedIsError(t *testing.T) {
	eng, _ := newTestEngine(t, localMidnightUnix(time.Now())+100)
	assert.ErrorIs(t, eng.Pause(), ErrCannotPauseStopped)
}

func TestResumeStoppedIsError(t *testing.T) {
	eng, _ := newTestEngine(t, localMidnightUnix(time.Now())+100)
	assert.ErrorIs(t, eng.Resume(), ErrCannotResumeStopped)
}

func TestPauseWithWorkElapsedClampsToBase(t *testing.T) {
	base := localMidnightUnix(time.Now()) + 3600
	eng, fake := newTestEngine(t, base)

	require.NoError(t, eng.Start())
	fake.Advance(10 * time.Second)

	// Work-elapsed override claims more time than actually passed; it must
	// be clamped to the real elapsed session time, not trusted outright.
	require.NoError(t, eng.PauseWithWorkElapsed(9999))

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.ElapsedSeconds)
}

func TestSleepDetectionPausesRunningTimer(t *testing.T) {
	base := localMidnightUnix(time.Now()) + 3600
	eng, fake := newTestEngine(t, base)

	require.NoError(t, eng.Start())

	// Simulate a suspend/resume: wall clock jumps forward 10 minutes, the
	// monotonic clock does not advance at all.
	fake.AdvanceWallOnly(10 * time.Minute)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.True(t, state.IsSleepDetected)
	assert.Equal(t, "paused", state.State)
}

func TestHandleSystemSleepIsIdempotentWhenNotRunning(t *testing.T) {
	eng, _ := newTestEngine(t, localMidnightUnix(time.Now())+100)
	require.NoError(t, eng.HandleSystemSleep())

	require.NoError(t, eng.Start())
	require.NoError(t, eng.Pause())
	require.NoError(t, eng.HandleSystemSleep())

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
}

func TestHandleSystemWakeNeverAutoResumes(t *testing.T) {
	eng, _ := newTestEngine(t, localMidnightUnix(time.Now())+100)
	require.NoError(t, eng.Start())
	require.NoError(t, eng.Pause())

	require.NoError(t, eng.HandleSystemWake())

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
}

func TestResetDayStopsRunningTimerFirst(t *testing.T) {
	base := localMidnightUnix(time.Now()) + 3600
	eng, fake := newTestEngine(t, base)

	require.NoError(t, eng.Start())
	fake.Advance(time.Minute)

	require.NoError(t, eng.ResetDay())

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, int64(0), state.ElapsedSeconds)
}

func TestRolloverKeepsRunningTimerAliveAcrossMidnight(t *testing.T) {
	today := time.Now().In(time.Local)
	todayMidnight := localMidnightUnix(today)
	startAt := todayMidnight - 3600 // started 1h before today's midnight

	eng, fake := newTestEngine(t, startAt)
	require.NoError(t, eng.Start())

	// Advance past midnight into the new day.
	fake.Advance(2 * time.Hour)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "running", state.State)
	// 1h of the session belonged to the old day (folded into accumulated),
	// 1h belongs to today.
	assert.Equal(t, int64(3600), state.TodaySeconds)
}

func TestRolloverResetsAccumulatedWhenNotRunning(t *testing.T) {
	today := time.Now().In(time.Local)
	todayMidnight := localMidnightUnix(today)
	startAt := todayMidnight - 3600

	eng, fake := newTestEngine(t, startAt)
	require.NoError(t, eng.Start())
	fake.Advance(30 * time.Minute)
	require.NoError(t, eng.Stop())

	fake.Advance(2 * time.Hour) // cross into the new day while stopped

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, int64(0), state.TodaySeconds)
}

func TestRestoreRunningDemotesToPausedAndAddsElapsed(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	today := time.Now().In(time.Local).Format(isoDayLayout)
	startedAt := localMidnightUnix(time.Now()) + 3600 // 01:00 local
	require.NoError(t, st.SaveTimerState(today, 0, "running", &startedAt, startedAt))

	// Restart 10 seconds later.
	fake := clock.NewFake(startedAt + 10)
	eng, err := New(fake, st, nil)
	require.NoError(t, err)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
	assert.Equal(t, int64(10), state.ElapsedSeconds)
	assert.True(t, state.RestoredFromRunning)
}

func TestRestoreRunningClockMovedBackwardsKeepsAccumulated(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	today := time.Now().In(time.Local).Format(isoDayLayout)
	startedAt := localMidnightUnix(time.Now()) + 3600
	require.NoError(t, st.SaveTimerState(today, 42, "running", &startedAt, startedAt))

	// "Restart" before the persisted started_at: wall clock went backwards.
	fake := clock.NewFake(startedAt - 5)
	eng, err := New(fake, st, nil)
	require.NoError(t, err)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
	assert.Equal(t, int64(42), state.ElapsedSeconds)
}

func TestRestoreRunningImplausibleGapKeepsAccumulated(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	today := time.Now().In(time.Local).Format(isoDayLayout)
	now := localMidnightUnix(time.Now()) + 12*3600 // 12:00 local, same day as the row
	startedAt := now - 25*3600                      // > 24h before now
	require.NoError(t, st.SaveTimerState(today, 7, "running", &startedAt, startedAt))

	fake := clock.NewFake(now)
	eng, err := New(fake, st, nil)
	require.NoError(t, err)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "paused", state.State)
	assert.Equal(t, int64(7), state.ElapsedSeconds)
}

func TestRestoreStaleDayDiscardsRow(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	yesterday := time.Now().In(time.Local).AddDate(0, 0, -1).Format(isoDayLayout)
	startedAt := localMidnightUnix(time.Now()) - 3600
	require.NoError(t, st.SaveTimerState(yesterday, 99, "running", &startedAt, startedAt))

	fake := clock.NewFake(localMidnightUnix(time.Now()) + 100)
	eng, err := New(fake, st, nil)
	require.NoError(t, err)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, int64(0), state.ElapsedSeconds)
	assert.False(t, state.RestoredFromRunning)
}

func TestGetStateReportsAccumulatedAndSessionStart(t *testing.T) {
	base := localMidnightUnix(time.Now()) + 3600
	eng, fake := newTestEngine(t, base)

	state, err := eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.AccumulatedSeconds)
	assert.Nil(t, state.SessionStart)

	require.NoError(t, eng.Start())
	fake.Advance(30 * time.Second)

	state, err = eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.AccumulatedSeconds) // not yet folded in, session still running
	require.NotNil(t, state.SessionStart)
	assert.Equal(t, base, *state.SessionStart)

	require.NoError(t, eng.Pause())
	state, err = eng.GetState()
	require.NoError(t, err)
	assert.Equal(t, int64(30), state.AccumulatedSeconds)
	assert.Nil(t, state.SessionStart)
}

func TestMaxRecursionDepthGuardsGetState(t *testing.T) {
	eng, _ := newTestEngine(t, localMidnightUnix(time.Now())+100)
	_, err := eng.getStateInternal(maxRecursionDepth + 1)
	assert.ErrorIs(t, err, ErrMaxRecursionDepth)
}
