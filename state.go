package agentpipe

import (
	"fmt"
	"sync/atomic"
)

// State is a client lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle is the client state machine. The zero value is NotStarted.
//
// All transitions are compare-and-swap; a transition that does not apply
// to the current state reports false (or ErrInvalidState) and leaves the
// state untouched.
//
//	NotStarted --Begin--> Starting --Promote--> Running --BeginShutdown--> ShuttingDown --Finish--> Stopped
//	Stopped --Begin--> Starting
//	Starting --Rollback--> NotStarted
//	Running --Complete|Heal--> Stopped
type Lifecycle struct {
	state atomic.Int32
}

// Load returns the current state.
func (l *Lifecycle) Load() State {
	return State(l.state.Load())
}

func (l *Lifecycle) cas(from, to State) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}

// Begin moves NotStarted or Stopped to Starting.
func (l *Lifecycle) Begin() error {
	if l.cas(StateNotStarted, StateStarting) || l.cas(StateStopped, StateStarting) {
		return nil
	}
	return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, l.Load())
}

// Promote moves Starting to Running.
func (l *Lifecycle) Promote() bool { return l.cas(StateStarting, StateRunning) }

// Rollback moves Starting back to NotStarted after a failed spawn.
func (l *Lifecycle) Rollback() bool { return l.cas(StateStarting, StateNotStarted) }

// BeginShutdown moves Running to ShuttingDown.
func (l *Lifecycle) BeginShutdown() bool { return l.cas(StateRunning, StateShuttingDown) }

// Complete moves Running directly to Stopped once a OneShot turn has
// finished and its resources are released.
func (l *Lifecycle) Complete() bool { return l.cas(StateRunning, StateStopped) }

// Heal forces a Running state whose process is gone to Stopped.
func (l *Lifecycle) Heal() bool { return l.cas(StateRunning, StateStopped) }

// Finish ends a shutdown. It stores Stopped unconditionally so that a
// shutdown always terminates in Stopped.
func (l *Lifecycle) Finish() { l.state.Store(int32(StateStopped)) }
