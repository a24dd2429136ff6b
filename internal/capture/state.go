package capture

import (
	"fmt"
	"slices"
	"time"
)

// State is the supervisor lifecycle state
type State int

const (
	// StateIdle is the state before Run
	StateIdle State = iota
	// StateDiscovering means the supervisor is resolving which device to open
	StateDiscovering
	// StateStarting means the source is being opened
	StateStarting
	// StateRunning means PCM is being read into the buffer
	StateRunning
	// StateBackoff means the supervisor is waiting before reconnecting
	StateBackoff
	// StateStopped is terminal
	StateStopped
)

// States lists every state, in order
var States = []State{StateIdle, StateDiscovering, StateStarting, StateRunning, StateBackoff, StateStopped}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Transition records one state change
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
}

// maxTransitionHistory bounds the kept transitions
const maxTransitionHistory = 100

var validTransitions = map[State][]State{
	StateIdle:        {StateDiscovering, StateStopped},
	StateDiscovering: {StateStarting, StateStopped},
	StateStarting:    {StateRunning, StateBackoff, StateStopped},
	StateRunning:     {StateBackoff, StateStopped},
	StateBackoff:     {StateDiscovering, StateStopped},
	StateStopped:     {},
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	return slices.Contains(validTransitions[from], to)
}
