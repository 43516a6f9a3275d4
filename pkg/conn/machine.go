package conn

import (
	"fmt"
	"time"

	"rtlink/pkg/core"
)

// EventKind identifies a state machine input.
type EventKind uint8

// Machine inputs.
const (
	EventConnectRequested EventKind = iota
	EventConnected
	EventConnectError
	EventDisconnected
	EventRetryTimerFired
	EventForceReconnect
	EventTeardown
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnectRequested:
		return "connect_requested"
	case EventConnected:
		return "connected"
	case EventConnectError:
		return "connect_error"
	case EventDisconnected:
		return "disconnected"
	case EventRetryTimerFired:
		return "retry_timer_fired"
	case EventForceReconnect:
		return "force_reconnect"
	case EventTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Event is a single input to the machine.
//
// Identity is read for EventConnectRequested. Token is the credential the runtime resolved
// right before stepping, for every event that may open a transport. Failure and Cause describe
// an EventConnectError; Reason describes an EventDisconnected.
type Event struct {
	Kind     EventKind
	Identity string
	Token    core.Token
	Failure  core.ErrorType
	Cause    error
	Reason   core.DisconnectReason
}

// EffectKind identifies a side effect the runtime must perform.
type EffectKind uint8

// Effects, executed in the order they are returned.
const (
	// EffectCancelTimer stops the pending retry timer.
	EffectCancelTimer EffectKind = iota
	// EffectCloseTransport detaches all listeners from the active transport, then closes it.
	EffectCloseTransport
	// EffectOpenTransport opens a new transport with Effect.Token.
	EffectOpenTransport
	// EffectScheduleRetry starts the retry timer with Effect.Delay.
	EffectScheduleRetry
	// EffectInvalidateCredential asks the credential source to drop an expired token.
	EffectInvalidateCredential
)

// String returns the string representation of the effect kind.
func (k EffectKind) String() string {
	switch k {
	case EffectCancelTimer:
		return "cancel_timer"
	case EffectCloseTransport:
		return "close_transport"
	case EffectOpenTransport:
		return "open_transport"
	case EffectScheduleRetry:
		return "schedule_retry"
	case EffectInvalidateCredential:
		return "invalidate_credential"
	default:
		return "unknown"
	}
}

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration
	Token core.Token
}

// Snapshot is the complete machine state. It is a plain value; Step never mutates its input.
type Snapshot struct {
	State State
	// Identity is the authenticated identity the session belongs to. Empty after teardown.
	Identity string
	// Attempts counts failures since the last successful connect or reset. 0 <= Attempts <= MaxAttempts.
	Attempts int
	// AuthRetried is true once a credential rejection has been retried. A second rejection parks the machine.
	// Cleared by a successful connect, a forced reconnect or a new identity.
	AuthRetried bool
	// TimerPending is true while a retry timer is outstanding.
	TimerPending bool
	// TransportOpen is true while a transport handle is held.
	TransportOpen bool
	// LastErr is the most recent taxonomy error, nil after a successful connect.
	LastErr error
}

// Machine computes transitions for a fixed Policy.
type Machine struct {
	policy Policy
}

// NewMachine creates a Machine for the given policy.
func NewMachine(policy Policy) Machine {
	return Machine{policy: policy}
}

// Step applies ev to s and returns the next snapshot along with the effects to perform.
// Events that are not meaningful in the current state return s unchanged and no effects.
func (m Machine) Step(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch ev.Kind {
	case EventConnectRequested:
		return m.onConnectRequested(s, ev)
	case EventConnected:
		if s.State != StateConnecting {
			return s, nil
		}
		s.State = StateConnected
		s.Attempts = 0
		s.AuthRetried = false
		s.LastErr = nil
		return s, nil
	case EventConnectError:
		if s.State != StateConnecting {
			return s, nil
		}
		return m.onFailure(s, ev.Failure, ev.Cause)
	case EventDisconnected:
		return m.onDisconnected(s, ev)
	case EventRetryTimerFired:
		if s.State != StateReconnectScheduled || !s.TimerPending {
			return s, nil
		}
		s.TimerPending = false
		return m.connect(s, ev.Token, nil)
	case EventForceReconnect:
		return m.onForceReconnect(s, ev)
	case EventTeardown:
		return m.teardown(s)
	}
	return s, nil
}

func (m Machine) onConnectRequested(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.State != StateIdle {
		return s, nil
	}
	if ev.Identity == "" {
		s.LastErr = core.NewConnError(core.ErrorTypeNoCredential, "no identity", nil)
		return s, nil
	}
	if s.Identity != ev.Identity {
		s.Attempts = 0
		s.AuthRetried = false
	}
	s.Identity = ev.Identity
	return m.connect(s, ev.Token, nil)
}

func (m Machine) onDisconnected(s Snapshot, ev Event) (Snapshot, []Effect) {
	switch s.State {
	case StateConnecting:
		// Dropped during the handshake; same as a failed attempt.
		return m.onFailure(s, core.ErrorTypeTransport, fmt.Errorf("disconnected during handshake: %s", ev.Reason))
	case StateConnected:
	default:
		return s, nil
	}

	if !ev.Reason.Retryable() {
		var effects []Effect
		s, effects = closeTransport(s, effects)
		s.State = StateIdle
		return s, effects
	}
	return m.onFailure(s, core.ErrorTypeTransport, fmt.Errorf("disconnected: %s", ev.Reason))
}

func (m Machine) onForceReconnect(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.Identity == "" {
		return s, nil
	}
	var effects []Effect
	s, effects = cancelTimer(s, effects)
	s.Attempts = 0
	s.AuthRetried = false
	s.LastErr = nil
	return m.connect(s, ev.Token, effects)
}

// onFailure handles a failed or dropped attempt. An auth rejection is retried once after the fixed
// delay and leaves the counter alone; a repeated one parks in Idle until a forced reconnect.
// Everything else increments the counter and backs off exponentially.
func (m Machine) onFailure(s Snapshot, failure core.ErrorType, cause error) (Snapshot, []Effect) {
	var effects []Effect
	s, effects = closeTransport(s, effects)

	if failure == core.ErrorTypeAuthRejected {
		s.LastErr = core.NewConnError(core.ErrorTypeAuthRejected, "credential rejected", cause)
		effects = append(effects, Effect{Kind: EffectInvalidateCredential})
		if s.AuthRetried {
			s, effects = cancelTimer(s, effects)
			s.State = StateIdle
			return s, effects
		}
		s.AuthRetried = true
		return scheduleRetry(s, effects, m.policy.AuthBackoff())
	}

	delay := m.policy.Backoff(s.Attempts)
	s.Attempts++
	if s.Attempts >= m.policy.MaxAttempts {
		s.Attempts = m.policy.MaxAttempts
		s.State = StateFailed
		s.LastErr = core.NewConnError(core.ErrorTypeMaxAttemptsExceeded, core.ErrMaxAttemptsExceeded.Error(), cause)
		return s, effects
	}
	s.LastErr = core.NewConnError(core.ErrorTypeTransport, "transport failure", cause)
	return scheduleRetry(s, effects, delay)
}

// connect opens a transport if a valid credential is at hand. Without one it parks in Idle and
// waits for an external refresh signal.
func (m Machine) connect(s Snapshot, token core.Token, effects []Effect) (Snapshot, []Effect) {
	s, effects = closeTransport(s, effects)
	if token.IsZero() || s.Identity == "" {
		s.State = StateIdle
		s.LastErr = core.NewConnError(core.ErrorTypeNoCredential, core.ErrNoCredential.Error(), nil)
		return s, effects
	}
	s.State = StateConnecting
	s.TransportOpen = true
	return s, append(effects, Effect{Kind: EffectOpenTransport, Token: token})
}

func (m Machine) teardown(s Snapshot) (Snapshot, []Effect) {
	var effects []Effect
	s, effects = cancelTimer(s, effects)
	s, effects = closeTransport(s, effects)
	return Snapshot{State: StateIdle}, effects
}

func scheduleRetry(s Snapshot, effects []Effect, delay time.Duration) (Snapshot, []Effect) {
	s, effects = cancelTimer(s, effects)
	s.State = StateReconnectScheduled
	s.TimerPending = true
	return s, append(effects, Effect{Kind: EffectScheduleRetry, Delay: delay})
}

func cancelTimer(s Snapshot, effects []Effect) (Snapshot, []Effect) {
	if !s.TimerPending {
		return s, effects
	}
	s.TimerPending = false
	return s, append(effects, Effect{Kind: EffectCancelTimer})
}

func closeTransport(s Snapshot, effects []Effect) (Snapshot, []Effect) {
	if !s.TransportOpen {
		return s, effects
	}
	s.TransportOpen = false
	return s, append(effects, Effect{Kind: EffectCloseTransport})
}
