package executor

import "fmt"

// State is the lifecycle position of an Executor.
type State int32

const (
	// StateIdle is the initial state.
	StateIdle State = iota
	// StateStarting covers validation, rendering and process start.
	StateStarting
	// StateRunning means the helper process is alive.
	StateRunning
	// StateCompleted means the attempt finished with success or failure.
	StateCompleted
	// StateCancelled means the user declined authorization.
	StateCancelled
	// StateTimedOut means the transaction was killed after the deadline.
	StateTimedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateTimedOut
}
