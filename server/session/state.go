package session

// State is a session lifecycle state. Transitions:
// CONNECTING -> ACTIVE <-> IDLE -> CLOSING -> CLOSED (terminal).
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateIdle
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateIdle:
		return "IDLE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
