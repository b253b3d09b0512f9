package engine

import (
	"time"

	"github.com/tkallio/rivet/config"
)

// ---------------------------------------------------------------------------
// Execution controller interface and loop commands
// ---------------------------------------------------------------------------

// State is the coarse execution state of one resource.
type State uint8

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateFaulted
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// Command is a live-reconfiguration command pushed into the loop.
type Command interface {
	isCommand()
}

// UpdateWatchdog reconfigures the cycle watchdog.
type UpdateWatchdog struct {
	Enabled bool
	Timeout time.Duration
	Action  config.WatchdogAction
}

// UpdateFaultPolicy changes the fault policy.
type UpdateFaultPolicy struct {
	Policy config.FaultPolicy
}

// UpdateRetainSaveInterval changes the retain save interval.
type UpdateRetainSaveInterval struct {
	Interval time.Duration
}

// ReloadBytecode swaps the running program. The loop answers on Reply
// exactly once.
type ReloadBytecode struct {
	Bytes []byte
	Reply chan error
}

func (UpdateWatchdog) isCommand()           {}
func (UpdateFaultPolicy) isCommand()        {}
func (UpdateRetainSaveInterval) isCommand() {}
func (ReloadBytecode) isCommand()           {}

// ExecController is the execution-loop surface the control service
// consumes: coarse state and pause/resume plus the command channel.
type ExecController interface {
	State() State
	LastError() string
	Pause()
	Resume()
	Stop()
	Send(Command)
}
