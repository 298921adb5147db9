package timerengine

// State is one of the three positions in the timer's finite state
// machine.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ParseState maps a persisted state string back to a State, defaulting to
// Stopped for anything unrecognized so a corrupted or future-version row
// never prevents the engine from starting.
func ParseState(s string) State {
	switch s {
	case "running":
		return StateRunning
	case "paused":
		return StatePaused
	default:
		return StateStopped
	}
}

var validTransitions = map[State][]State{
	StateStopped: {StateRunning},
	StateRunning: {StatePaused, StateStopped},
	StatePaused:  {StateRunning, StateStopped},
}

// CanTransitionTo reports whether the FSM allows moving from s to next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
