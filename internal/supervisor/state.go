package supervisor

// State is a worker lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateStreaming:    "streaming",
	StateReconnecting: "reconnecting",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AllStates lists states in lifecycle order.
func AllStates() []State {
	return []State{StateIdle, StateConnecting, StateStreaming, StateReconnecting, StateStopping, StateStopped, StateFailed}
}

var transitions = map[State][]State{
	StateIdle:         {StateConnecting, StateStopping},
	StateConnecting:   {StateStreaming, StateReconnecting, StateStopping, StateFailed},
	StateStreaming:    {StateReconnecting, StateStopping, StateFailed},
	StateReconnecting: {StateConnecting, StateStopping, StateFailed},
	StateStopping:     {StateStopped},
	StateStopped:      {StateConnecting, StateStopping},
	StateFailed:       {StateStopping},
}

// CanTransition reports whether from -> to is an edge of the worker state
// machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the worker's run loop has exited.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
