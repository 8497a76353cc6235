package bridge

// State represents the lifecycle state of a bridge run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// IsFinished returns true if the run reached a terminal state.
func (s State) IsFinished() bool {
	return s == StateDone || s == StateAborted
}

// Status is a point-in-time snapshot of a bridge run.
type Status struct {
	State      State  `json:"state"`
	Depth      int    `json:"depth"`
	Ticks      uint64 `json:"ticks"`
	LastResult bool   `json:"last_result"`
	Error      string `json:"error,omitempty"`
}
