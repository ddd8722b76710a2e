package turn

type State int

const (
	StateIdle State = iota
	StateSessionOpen
	StateStreaming
	StateDraining
	StateComplete
	StateFailed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSessionOpen:
		return "SESSION_OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}
