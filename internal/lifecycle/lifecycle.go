package lifecycle

import "sync/atomic"

// Phase is where the process is in its life.
type Phase int32

const (
	Starting Phase = iota
	Serving
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	default:
		return "shutting-down"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. main sets Serving once the listener is
// up and ShuttingDown on SIGTERM/SIGINT.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}
