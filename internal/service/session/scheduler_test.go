package session

import (
	"testing"
	"time"
)

// manualTimers collects scheduled callbacks so tests decide when they fire.
type manualTimers struct {
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualTimer) Stop() bool {
	wasActive := !m.stopped && !m.fired
	m.stopped = true
	return wasActive
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{delay: d, fn: f}
	m.timers = append(m.timers, t)
	return t
}

// fireNext runs the oldest armed timer and reports whether one existed.
func (m *manualTimers) fireNext() bool {
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			t.fn()
			return true
		}
	}
	return false
}

func (m *manualTimers) armed() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func TestRestartScheduler_ScheduleArmsTimer(t *testing.T) {
	timers := &manualTimers{}
	s := NewRestartScheduler(3, 50*time.Millisecond, timers.AfterFunc)

	fired := 0
	d := s.Schedule(func() { fired++ })

	if d.Kind != DecisionRestart {
		t.Fatalf("expected DecisionRestart, got %v", d.Kind)
	}
	if d.Delay != 50*time.Millisecond {
		t.Errorf("expected constant 50ms delay, got %v", d.Delay)
	}
	if d.Count != 1 || s.Count() != 1 {
		t.Errorf("expected count 1, got %d/%d", d.Count, s.Count())
	}
	if !s.Pending() {
		t.Error("expected a pending restart")
	}

	timers.fireNext()
	if fired != 1 {
		t.Errorf("expected callback to fire once, got %d", fired)
	}
}

func TestRestartScheduler_NoConcurrentRestarts(t *testing.T) {
	timers := &manualTimers{}
	s := NewRestartScheduler(10, time.Millisecond, timers.AfterFunc)

	s.Schedule(func() {})
	d := s.Schedule(func() {})

	if d.Kind != DecisionPending {
		t.Fatalf("expected DecisionPending, got %v", d.Kind)
	}
	if s.Count() != 1 {
		t.Errorf("pending request must not consume budget, count=%d", s.Count())
	}
	if timers.armed() != 1 {
		t.Errorf("expected exactly one armed timer, got %d", timers.armed())
	}
}

func TestRestartScheduler_BudgetExhausted(t *testing.T) {
	timers := &manualTimers{}
	s := NewRestartScheduler(3, time.Millisecond, timers.AfterFunc)

	for i := 1; i <= 3; i++ {
		d := s.Schedule(func() {})
		if d.Kind != DecisionRestart {
			t.Fatalf("restart %d: expected DecisionRestart, got %v", i, d.Kind)
		}
		timers.fireNext()
		s.Fired()
	}

	d := s.Schedule(func() {})
	if d.Kind != DecisionAbort {
		t.Fatalf("expected DecisionAbort on the (max+1)-th request, got %v", d.Kind)
	}
	if s.Count() > s.Max() {
		t.Errorf("count %d exceeds max %d", s.Count(), s.Max())
	}
	if timers.armed() != 0 {
		t.Errorf("abort must not arm a timer, got %d armed", timers.armed())
	}
}

func TestRestartScheduler_ResetCount(t *testing.T) {
	timers := &manualTimers{}
	s := NewRestartScheduler(2, time.Millisecond, timers.AfterFunc)

	s.Schedule(func() {})
	timers.fireNext()
	s.Fired()
	s.Schedule(func() {})
	timers.fireNext()
	s.Fired()

	s.ResetCount()

	if d := s.Schedule(func() {}); d.Kind != DecisionRestart {
		t.Errorf("expected budget to be available after reset, got %v", d.Kind)
	}
}

func TestRestartScheduler_Cancel(t *testing.T) {
	timers := &manualTimers{}
	s := NewRestartScheduler(5, time.Millisecond, timers.AfterFunc)

	fired := false
	s.Schedule(func() { fired = true })
	s.Cancel()

	if s.Pending() {
		t.Error("expected no pending restart after cancel")
	}
	if timers.fireNext() {
		t.Error("expected cancelled timer not to fire")
	}
	if fired {
		t.Error("callback ran after cancel")
	}

	// Cancel is idempotent.
	s.Cancel()
}

func TestNewRestartScheduler_Defaults(t *testing.T) {
	s := NewRestartScheduler(0, -1, nil)

	if s.Max() != DefaultMaxRestarts {
		t.Errorf("expected default max %d, got %d", DefaultMaxRestarts, s.Max())
	}
	if s.delay != DefaultRestartDelay {
		t.Errorf("expected default delay %v, got %v", DefaultRestartDelay, s.delay)
	}
	if s.afterFunc == nil {
		t.Error("expected runtime timer fallback")
	}
}

func TestRestartScheduler_RealTimer(t *testing.T) {
	s := NewRestartScheduler(1, 5*time.Millisecond, nil)

	done := make(chan struct{})
	s.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restart timer did not fire")
	}
}
