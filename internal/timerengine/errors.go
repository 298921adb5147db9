package timerengine

import "errors"

var (
	ErrAlreadyRunning       = errors.New("timer: already running")
	ErrAlreadyPaused        = errors.New("timer: already paused")
	ErrAlreadyStopped       = errors.New("timer: already stopped")
	ErrCannotPauseStopped   = errors.New("timer: cannot pause a stopped timer")
	ErrCannotResumeStopped  = errors.New("timer: cannot resume a stopped timer, use Start instead")
	ErrChangedDuringRollover = errors.New("timer: state changed during day rollover")
	ErrMaxRecursionDepth    = errors.New("timer: max recursion depth exceeded resolving state")
	ErrPersistence          = errors.New("timer: failed to persist state")
)
