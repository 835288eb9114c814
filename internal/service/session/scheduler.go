package session

import (
	"fmt"
	"time"
)

// Defaults for the restart budget.
const (
	DefaultMaxRestarts  = 50
	DefaultRestartDelay = 50 * time.Millisecond
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. time.AfterFunc satisfies it once
// wrapped by RealAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc schedules on the runtime timer.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DecisionKind is the outcome of a restart request.
type DecisionKind int

const (
	// DecisionRestart - a restart timer is armed.
	DecisionRestart DecisionKind = iota
	// DecisionAbort - the budget is exhausted; the session must end.
	DecisionAbort
	// DecisionPending - a restart is already armed; nothing new was scheduled.
	DecisionPending
)

// String returns a label for logs.
func (k DecisionKind) String() string {
	switch k {
	case DecisionRestart:
		return "restart"
	case DecisionAbort:
		return "abort"
	case DecisionPending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Decision describes what the scheduler did with a restart request.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
	Count int
}

// RestartScheduler owns the restart budget of one session and at most one
// armed restart timer. The delay is constant: it only gives the engine time
// to release resources before it is re-acquired.
//
// It is not safe for concurrent use; the controller guards it with its mutex.
// Fired callbacks must re-check session identity themselves, since they run
// after the lock was released.
type RestartScheduler struct {
	max       int
	delay     time.Duration
	afterFunc AfterFunc

	count   int
	pending Timer
}

// NewRestartScheduler creates a scheduler. Non-positive max or negative delay
// fall back to the defaults; a nil afterFunc uses the runtime timer.
func NewRestartScheduler(max int, delay time.Duration, afterFunc AfterFunc) *RestartScheduler {
	if max <= 0 {
		max = DefaultMaxRestarts
	}
	if delay < 0 {
		delay = DefaultRestartDelay
	}
	if afterFunc == nil {
		afterFunc = RealAfterFunc
	}
	return &RestartScheduler{
		max:       max,
		delay:     delay,
		afterFunc: afterFunc,
	}
}

// Schedule consumes one unit of budget and arms fire after the settle delay.
// The request that would exceed the budget is refused with DecisionAbort and
// leaves the count at max.
func (s *RestartScheduler) Schedule(fire func()) Decision {
	if s.pending != nil {
		return Decision{Kind: DecisionPending, Count: s.count}
	}
	if s.count >= s.max {
		return Decision{Kind: DecisionAbort, Count: s.count}
	}
	s.count++
	s.pending = s.afterFunc(s.delay, fire)
	return Decision{Kind: DecisionRestart, Delay: s.delay, Count: s.count}
}

// Fired clears the armed timer. The controller calls it from the fired
// callback once it holds the lock.
func (s *RestartScheduler) Fired() {
	s.pending = nil
}

// Cancel disarms a pending restart, if any.
func (s *RestartScheduler) Cancel() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

// Pending reports whether a restart is armed.
func (s *RestartScheduler) Pending() bool {
	return s.pending != nil
}

// ResetCount clears consecutive-restart tracking after a successful result.
func (s *RestartScheduler) ResetCount() {
	s.count = 0
}

// Count returns the restarts consumed since the last reset.
func (s *RestartScheduler) Count() int {
	return s.count
}

// Max returns the budget ceiling.
func (s *RestartScheduler) Max() int {
	return s.max
}
