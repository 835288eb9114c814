package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/schema"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	delay  time.Duration
}

func (s *recordingSink) Deliver(ctx context.Context, event models.Event) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestEmitter(t *testing.T, taps ...Sink) (*Emitter, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e := NewEmitter(EmitterConfig{
		Taps:      taps,
		Validator: schema.New(),
		Metrics:   m,
	})
	t.Cleanup(func() { e.Close() })
	return e, m
}

func flush(t *testing.T, e *Emitter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	e, m := newTestEmitter(t)
	sink := &recordingSink{delay: time.Millisecond}
	e.Attach(sink)

	for i := 0; i < 20; i++ {
		e.Emit(models.NewResultEvent("s1", string(rune('a'+i)), false, 0.5))
	}
	e.Emit(models.NewEndEvent("s1"))
	flush(t, e)

	got := sink.received()
	if len(got) != 21 {
		t.Fatalf("expected 21 events, got %d", len(got))
	}
	for i := 0; i < 20; i++ {
		want := string(rune('a' + i))
		if tr := got[i].Data.(models.SpeechResult).Transcript; tr != want {
			t.Fatalf("event %d out of order: got %s, want %s", i, tr, want)
		}
	}
	if got[20].Type != models.EventSpeechEnd {
		t.Errorf("expected end event last, got %s", got[20].Type)
	}
	if n := testutil.ToFloat64(m.EventsEmitted.WithLabelValues(models.EventSpeechResult)); n != 20 {
		t.Errorf("expected 20 emitted results, got %v", n)
	}
}

func TestEmitter_DetachedSinkDrops(t *testing.T) {
	e, m := newTestEmitter(t)

	e.Emit(models.NewEndEvent("s1"))
	flush(t, e)

	if n := testutil.ToFloat64(m.EventsDropped.WithLabelValues(models.EventSpeechEnd, dropDetached)); n != 1 {
		t.Errorf("expected 1 detached drop, got %v", n)
	}

	sink := &recordingSink{}
	e.Attach(sink)
	e.Emit(models.NewEndEvent("s2"))
	flush(t, e)
	e.Detach()
	e.Emit(models.NewEndEvent("s3"))
	flush(t, e)

	got := sink.received()
	if len(got) != 1 || got[0].SessionID != "s2" {
		t.Errorf("expected only the attached-period event, got %+v", got)
	}
	if e.Attached() {
		t.Error("expected emitter to report detached")
	}
}

func TestEmitter_TapsReceiveEverything(t *testing.T) {
	tap := &recordingSink{}
	e, _ := newTestEmitter(t, tap)

	// No host sink attached; taps still see the event.
	e.Emit(models.NewResultEvent("s1", "hello", false, 0.9))
	e.Emit(models.NewEndEvent("s1"))
	flush(t, e)

	got := tap.received()
	if len(got) != 2 {
		t.Fatalf("expected tap to receive 2 events, got %d", len(got))
	}
}

func TestEmitter_SinkErrorDoesNotStopDelivery(t *testing.T) {
	e, m := newTestEmitter(t)
	failing := &recordingSink{err: errors.New("connection reset")}
	e.Attach(failing)

	e.Emit(models.NewEndEvent("s1"))
	flush(t, e)

	if n := testutil.ToFloat64(m.EventsDropped.WithLabelValues(models.EventSpeechEnd, dropSinkError)); n != 1 {
		t.Errorf("expected 1 sink error drop, got %v", n)
	}

	ok := &recordingSink{}
	e.Attach(ok)
	e.Emit(models.NewEndEvent("s2"))
	flush(t, e)
	if len(ok.received()) != 1 {
		t.Error("expected delivery to continue after a sink error")
	}
}

func TestEmitter_InvalidEventDropped(t *testing.T) {
	e, m := newTestEmitter(t)
	sink := &recordingSink{}
	e.Attach(sink)

	e.Emit(models.Event{Type: "bogus", SessionID: "s1", Timestamp: 1})
	flush(t, e)

	if len(sink.received()) != 0 {
		t.Error("expected invalid event to be dropped")
	}
	if n := testutil.ToFloat64(m.EventsDropped.WithLabelValues("bogus", dropInvalid)); n != 1 {
		t.Errorf("expected 1 invalid drop, got %v", n)
	}
}

func TestEmitter_CloseDrainsQueue(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e := NewEmitter(EmitterConfig{Metrics: m})
	sink := &recordingSink{delay: time.Millisecond}
	e.Attach(sink)

	for i := 0; i < 10; i++ {
		e.Emit(models.NewEndEvent("s1"))
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := len(sink.received()); n != 10 {
		t.Errorf("expected 10 delivered before close returned, got %d", n)
	}

	// Emit and Flush after close.
	e.Emit(models.NewEndEvent("s2"))
	if n := testutil.ToFloat64(m.EventsDropped.WithLabelValues(models.EventSpeechEnd, dropClosed)); n != 1 {
		t.Errorf("expected 1 closed drop, got %v", n)
	}
	if err := e.Flush(context.Background()); !errors.Is(err, ErrEmitterClosed) {
		t.Errorf("expected ErrEmitterClosed, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestEmitter_ConcurrentEmit(t *testing.T) {
	e, _ := newTestEmitter(t)
	sink := &recordingSink{}
	e.Attach(sink)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Emit(models.NewEndEvent("s1"))
			}
		}()
	}
	wg.Wait()
	flush(t, e)

	if n := len(sink.received()); n != 400 {
		t.Errorf("expected 400 events, got %d", n)
	}
}
