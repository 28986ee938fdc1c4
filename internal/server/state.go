package server

// State is a step of the request loop.
type State int32

const (
	StateStarting State = iota
	StateAwaitingRequest
	StateDispatching
	StateInterrupted
	StateDraining
	StateReapingPeer
	StateCleaningUp
	StateTerminated
)

var stateNames = [...]string{
	StateStarting:        "starting",
	StateAwaitingRequest: "awaiting_request",
	StateDispatching:     "dispatching",
	StateInterrupted:     "interrupted",
	StateDraining:        "draining",
	StateReapingPeer:     "reaping_peer",
	StateCleaningUp:      "cleaning_up",
	StateTerminated:      "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Cause is why the request loop stopped reading.
type Cause int

const (
	CauseNone Cause = iota
	// CauseSentinel: the interface sent 0.
	CauseSentinel
	// CauseEndOfStream: the interface closed its end.
	CauseEndOfStream
	// CauseBudget: the CPU limit notification interrupted the read.
	CauseBudget
	// CauseCanceled: the run's context was canceled.
	CauseCanceled
	// CauseProtocol: a malformed frame or a failed read.
	CauseProtocol
	// CauseSetup: the run never reached the loop.
	CauseSetup
)

var causeNames = [...]string{
	CauseNone:        "none",
	CauseSentinel:    "sentinel",
	CauseEndOfStream: "end_of_stream",
	CauseBudget:      "cpu_budget",
	CauseCanceled:    "canceled",
	CauseProtocol:    "protocol_error",
	CauseSetup:       "setup_error",
}

func (c Cause) String() string {
	if c < 0 || int(c) >= len(causeNames) {
		return "unknown"
	}
	return causeNames[c]
}
