package audiobuffer

import "fmt"

// DefaultPrebufferThreshold is the fill ratio at which new sessions are released.
const DefaultPrebufferThreshold = 0.60

// GateState is the state of the prebuffer flow gate
type GateState int

const (
	// GateFilling holds back sessions that have not received data yet
	GateFilling GateState = iota
	// GateReady releases waiting and new sessions
	GateReady
)

func (s GateState) String() string {
	switch s {
	case GateFilling:
		return "filling"
	case GateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Gate is a single-threshold prebuffer state machine. It has no hysteresis band:
// Ready while the observed fill ratio is at or above the threshold, Filling otherwise.
// Gate is not safe for concurrent use; Buffer guards it with its lock.
type Gate struct {
	threshold   float64
	state       GateState
	transitions uint64
}

// NewGate returns a gate in the Filling state
func NewGate(threshold float64) Gate {
	return Gate{threshold: threshold, state: GateFilling}
}

// Observe evaluates ratio against the threshold and reports whether the state changed
func (g *Gate) Observe(ratio float64) bool {
	next := GateFilling
	if ratio >= g.threshold {
		next = GateReady
	}
	if next == g.state {
		return false
	}
	g.state = next
	g.transitions++
	return true
}

// State returns the current gate state
func (g *Gate) State() GateState { return g.state }

// Ready reports whether the gate is open
func (g *Gate) Ready() bool { return g.state == GateReady }

// Threshold returns the configured threshold fraction
func (g *Gate) Threshold() float64 { return g.threshold }

// Transitions returns the number of state changes since creation
func (g *Gate) Transitions() uint64 { return g.transitions }
