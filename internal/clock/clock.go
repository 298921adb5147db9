// Package clock provides the wall-clock/monotonic-clock split the timer
// engine needs to detect system sleep and survive NTP-driven wall-clock
// jumps without losing elapsed time.
package clock

import "time"

// Clock separates a wall-clock reading (subject to NTP adjustment, used
// for persistence and calendar-day math) from a monotonic reading (immune
// to wall-clock jumps, used to detect sleep gaps). Each reading comes from
// its own method call.
type Clock interface {
	// WallNow returns the current wall-clock time as unix seconds.
	WallNow() int64
	// MonoNow returns a time.Time carrying Go's monotonic reading. Only
	// the monotonic component should ever be used for elapsed-time math;
	// callers get that by calling Sub on two values returned from MonoNow.
	MonoNow() time.Time
}

// System is the production Clock backed by the real OS clock.
type System struct{}

func (System) WallNow() int64 {
	return time.Now().Unix()
}

func (System) MonoNow() time.Time {
	return time.Now()
}

// Elapsed returns the monotonic duration between two MonoNow readings,
// saturated at zero if end precedes start.
func Elapsed(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// SaturatingAdd adds b to a without wrapping past the maximum int64.
func SaturatingAdd(a, b int64) int64 {
	if b > 0 && a > maxInt64-b {
		return maxInt64
	}
	return a + b
}

// SaturatingSub subtracts b from a, clamping at zero instead of going
// negative.
func SaturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

const maxInt64 = int64(^uint64(0) >> 1)
