package sim

// State is the lifecycle state of a Simulator.
type State int

const (
	NotInitialized State = iota
	Initialized
	Started
	Stopping
	Stopped
)

var stateNames = map[State]string{
	NotInitialized: "NOT_INITIALIZED",
	Initialized:    "INITIALIZED",
	Started:        "STARTED",
	Stopping:       "STOPPING",
	Stopped:        "STOPPED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// canStart reports whether Start or Step may be called from s.
func (s State) canStart() bool {
	return s == Initialized || s == Stopped
}
