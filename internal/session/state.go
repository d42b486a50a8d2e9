package session

// State is a session lifecycle state.
type State string

const (
	// StateIdle waits for the next message.
	StateIdle State = "idle"
	// StateProvisioning creates the sandbox. Only the first turn passes
	// through it.
	StateProvisioning State = "provisioning"
	// StateRunning executes the agent loop.
	StateRunning State = "running"
	// StateAwaitingSideEffects runs the commit/push/PR pipeline of a
	// completed turn.
	StateAwaitingSideEffects State = "awaiting_side_effects"
	// StateCancelling waits for the loop to observe a cancellation.
	StateCancelling State = "cancelling"
	// StateFailed keeps the transcript inspectable but rejects messages.
	StateFailed State = "failed"
	// StateClosed is terminal; the sandbox has been released.
	StateClosed State = "closed"
)

func (s State) String() string { return string(s) }

// transitions lists the legal targets of each state. Closed is reachable
// from every other state and is not listed.
var transitions = map[State][]State{
	StateIdle:                {StateProvisioning, StateRunning},
	StateProvisioning:        {StateRunning, StateFailed},
	StateRunning:             {StateAwaitingSideEffects, StateCancelling, StateFailed},
	StateAwaitingSideEffects: {StateIdle, StateFailed},
	StateCancelling:          {StateIdle},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// AcceptsMessages reports whether a new turn may start.
func (s State) AcceptsMessages() bool {
	return s == StateIdle
}

// Busy reports whether a turn is in progress.
func (s State) Busy() bool {
	switch s {
	case StateProvisioning, StateRunning, StateAwaitingSideEffects, StateCancelling:
		return true
	}
	return false
}
