package conn

import "sync/atomic"

// State represents the lifecycle state of the logical realtime connection.
type State int32

// Connection states.
const (
	// StateIdle indicates no transport is open and no retry is pending.
	StateIdle State = iota
	// StateConnecting indicates a transport handshake is in flight.
	StateConnecting
	// StateConnected indicates the transport reported a successful handshake.
	StateConnected
	// StateReconnectScheduled indicates a retry timer is pending.
	StateReconnectScheduled
	// StateFailed indicates the reconnect budget is exhausted. Only a forced reconnect leaves it.
	StateFailed
)

// String returns the string representation of the connection state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AtomicState provides thread-safe atomic access to a State value.
type AtomicState struct {
	state atomic.Int32
}

// Load returns the current state.
func (s *AtomicState) Load() State {
	return State(s.state.Load())
}

// Store sets the state to the given value.
func (s *AtomicState) Store(state State) {
	s.state.Store(int32(state))
}

// Swap stores state and returns the previous value.
func (s *AtomicState) Swap(state State) State {
	return State(s.state.Swap(int32(state)))
}
