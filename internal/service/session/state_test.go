package session

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.State().IsActive() {
		t.Error("expected idle state to be inactive")
	}
}

func TestLifecycle_RestartCycle(t *testing.T) {
	lc := NewLifecycle()

	steps := []State{StateListening, StateRestarting, StateListening, StateRestarting, StateListening}
	for _, next := range steps {
		if err := lc.Transition(next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
	if lc.State() != StateListening {
		t.Errorf("expected StateListening, got %v", lc.State())
	}
}

func TestLifecycle_StopFromRestarting(t *testing.T) {
	lc := NewLifecycle()

	for _, next := range []State{StateListening, StateRestarting, StateStopping, StateTerminated} {
		if err := lc.Transition(next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
}

func TestLifecycle_NewSessionAfterTerminated(t *testing.T) {
	lc := NewLifecycle()

	for _, next := range []State{StateListening, StateTerminated, StateListening} {
		if err := lc.Transition(next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		next State
	}{
		{"idle to stopping", nil, StateStopping},
		{"idle to terminated", nil, StateTerminated},
		{"idle to restarting", nil, StateRestarting},
		{"stopping to listening", []State{StateListening, StateStopping}, StateListening},
		{"terminated to stopping", []State{StateListening, StateTerminated}, StateStopping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("setup transition to %s failed: %v", s, err)
				}
			}
			before := lc.State()

			err := lc.Transition(tt.next)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if lc.State() != before {
				t.Errorf("state changed on invalid transition: %v -> %v", before, lc.State())
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateListening, "LISTENING"},
		{StateRestarting, "RESTARTING"},
		{StateStopping, "STOPPING"},
		{StateTerminated, "TERMINATED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsActive(t *testing.T) {
	tests := []struct {
		state  State
		active bool
	}{
		{StateIdle, false},
		{StateListening, true},
		{StateRestarting, true},
		{StateStopping, false},
		{StateTerminated, false},
	}

	for _, tt := range tests {
		if got := tt.state.IsActive(); got != tt.active {
			t.Errorf("State(%s).IsActive() = %v, want %v", tt.state, got, tt.active)
		}
	}
}
