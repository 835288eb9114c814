// Package session implements the continuous speech session controller: the
// state machine that keeps an inherently single-utterance engine listening by
// restarting it, accumulates the transcript across restarts, and guarantees a
// well-formed event sequence for every session.
package session

import (
	"errors"
	"fmt"
)

// State represents the controller's lifecycle state.
type State int

const (
	// StateIdle - No session has been started yet.
	StateIdle State = iota
	// StateListening - An engine invocation is live.
	StateListening
	// StateRestarting - The previous invocation is torn down and a restart is pending.
	StateRestarting
	// StateStopping - A user stop is flushing the transcript.
	StateStopping
	// StateTerminated - The session has emitted its end event.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateRestarting:
		return "RESTARTING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsActive returns true while a session is running (listening or restarting).
func (s State) IsActive() bool {
	return s == StateListening || s == StateRestarting
}

// ErrInvalidTransition is returned for a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Allowed transitions:
//
//	IDLE ──start──→ LISTENING ──restart──→ RESTARTING ──timer──→ LISTENING
//	                    │                      │
//	                    ├──stop──→ STOPPING ←──┤
//	                    │            │         │
//	                    └─fatal/abort/supersede─→ TERMINATED ←┘
//	TERMINATED ──start──→ LISTENING
var transitions = map[State][]State{
	StateIdle:       {StateListening},
	StateListening:  {StateRestarting, StateStopping, StateTerminated},
	StateRestarting: {StateListening, StateStopping, StateTerminated},
	StateStopping:   {StateTerminated},
	StateTerminated: {StateListening},
}

// Lifecycle tracks the controller state and enforces the allowed transitions.
// It is not safe for concurrent use; the controller guards it with its mutex.
type Lifecycle struct {
	state State
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// CanTransition reports whether moving to next is allowed from the current state.
func (l *Lifecycle) CanTransition(next State) bool {
	for _, s := range transitions[l.state] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves to next, or returns ErrInvalidTransition and leaves the
// state unchanged.
func (l *Lifecycle) Transition(next State) error {
	if !l.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}
	l.state = next
	return nil
}
