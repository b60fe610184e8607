package robot

// State is the top-level operational state.
type State uint8

// The set of operational states.
const (
	StateIdle = State(iota)
	StateInitializing
	StateManualControl
	StateMowing
	StateAvoiding
	StateReturningHome
	StateDocked
	StateError
	StateEmergencyStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitializing:
		return "INITIALIZING"
	case StateManualControl:
		return "MANUAL_CONTROL"
	case StateMowing:
		return "MOWING"
	case StateAvoiding:
		return "AVOIDING"
	case StateReturningHome:
		return "RETURNING_HOME"
	case StateDocked:
		return "DOCKED"
	case StateError:
		return "ERROR"
	case StateEmergencyStop:
		return "EMERGENCY_STOP"
	}
	return "UNKNOWN"
}

// terminal reports whether the state requires operator intervention to
// leave.
func (s State) terminal() bool {
	return s == StateError || s == StateEmergencyStop
}
