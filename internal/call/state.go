package call

import "fmt"

// LifecycleState is the lifecycle of a call
type LifecycleState int

const (
	// StateRinging is the initial state, before the leg is answered
	StateRinging LifecycleState = iota
	// StateScreening is while an unverified caller is challenged
	StateScreening
	// StateActive is a verified caller talking to the assistant
	StateActive
	// StateTransferring is after a blind transfer was accepted
	StateTransferring
	// StateTerminated is the final state
	StateTerminated
)

// String returns the string representation of the state
func (s LifecycleState) String() string {
	switch s {
	case StateRinging:
		return "RINGING"
	case StateScreening:
		return "SCREENING"
	case StateActive:
		return "ACTIVE"
	case StateTransferring:
		return "TRANSFERRING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[LifecycleState][]LifecycleState{
	StateRinging:      {StateScreening, StateActive, StateTerminated},
	StateScreening:    {StateActive, StateTerminated},
	StateActive:       {StateTransferring, StateTerminated},
	StateTransferring: {StateTerminated},
	StateTerminated:   {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s LifecycleState) CanTransitionTo(next LifecycleState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s LifecycleState) IsTerminal() bool {
	return s == StateTerminated
}

// TerminateReason explains why a call was terminated
type TerminateReason int

const (
	// ReasonNone means the call has not terminated
	ReasonNone TerminateReason = iota
	// ReasonRemoteHangup means the caller hung up
	ReasonRemoteHangup
	// ReasonBlocked means the caller is on the blocklist
	ReasonBlocked
	// ReasonScreeningExhausted means the caller failed the passcode too often
	ReasonScreeningExhausted
	// ReasonTransferred means the call was handed to a human
	ReasonTransferred
	// ReasonOperatorHangup means an operator ended the call
	ReasonOperatorHangup
	// ReasonSessionError means the assistant session was lost
	ReasonSessionError
	// ReasonSetupFailed means answering or session setup failed
	ReasonSetupFailed
	// ReasonMaxDuration means the call exceeded the maximum duration
	ReasonMaxDuration
	// ReasonShutdown means the process is stopping
	ReasonShutdown
	// ReasonInternalError means the call handler failed unexpectedly
	ReasonInternalError
)

// String returns the string representation of the termination reason
func (r TerminateReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonRemoteHangup:
		return "caller_hangup"
	case ReasonBlocked:
		return "blocked"
	case ReasonScreeningExhausted:
		return "screening_exhausted"
	case ReasonTransferred:
		return "transferred"
	case ReasonOperatorHangup:
		return "operator_hangup"
	case ReasonSessionError:
		return "session_error"
	case ReasonSetupFailed:
		return "setup_failed"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonShutdown:
		return "shutdown"
	case ReasonInternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}
