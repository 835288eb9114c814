package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/schema"
)

// ErrEmitterClosed is returned by Flush after Close.
var ErrEmitterClosed = errors.New("event emitter closed")

// Drop reasons recorded in metrics.
const (
	dropDetached  = "detached"
	dropInvalid   = "invalid"
	dropSinkError = "sink_error"
	dropClosed    = "closed"
)

// Sink receives delivered events. The host connection is the primary sink;
// the Kafka publisher is attached as a tap.
type Sink interface {
	Deliver(ctx context.Context, event models.Event) error
}

// EmitterConfig holds emitter configuration.
type EmitterConfig struct {
	// DeliverTimeout bounds a single Deliver call.
	DeliverTimeout time.Duration
	// Taps receive every event after the host sink, in the same order.
	Taps      []Sink
	Validator *schema.Validator
	Metrics   *metrics.Metrics
}

type item struct {
	event   models.Event
	barrier chan struct{}
}

// Emitter delivers events on a single goroutine in the order they were
// emitted. Emit never blocks on delivery, so it is safe to call while holding
// a lock. The host sink is looked up at delivery time: events that find no
// sink attached are dropped and logged.
type Emitter struct {
	mu      sync.Mutex
	pending []item
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	sinkMu sync.RWMutex
	sink   Sink

	taps           []Sink
	validator      *schema.Validator
	deliverTimeout time.Duration
	metrics        *metrics.Metrics
	log            zerolog.Logger
}

// NewEmitter creates an emitter and starts its delivery goroutine.
func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	e := &Emitter{
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		taps:           cfg.Taps,
		validator:      cfg.Validator,
		deliverTimeout: cfg.DeliverTimeout,
		metrics:        cfg.Metrics,
		log:            logging.WithComponent("emitter"),
	}
	go e.run()
	return e
}

// Attach sets the host sink, replacing any previous one.
func (e *Emitter) Attach(sink Sink) {
	e.sinkMu.Lock()
	e.sink = sink
	e.sinkMu.Unlock()
}

// Detach removes the host sink. Later events are dropped until the next Attach.
func (e *Emitter) Detach() {
	e.sinkMu.Lock()
	e.sink = nil
	e.sinkMu.Unlock()
}

// Attached reports whether a host sink is set.
func (e *Emitter) Attached() bool {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	return e.sink != nil
}

// Emit enqueues event for delivery.
func (e *Emitter) Emit(event models.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.metrics.RecordEventDropped(event.Type, dropClosed)
		e.log.Warn().Str("type", event.Type).Str("sessionId", event.SessionID).Msg("Event emitted after close, dropping")
		return
	}
	e.pending = append(e.pending, item{event: event})
	e.mu.Unlock()
	e.signal()
}

// Flush blocks until every event emitted before the call was delivered.
func (e *Emitter) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEmitterClosed
	}
	e.pending = append(e.pending, item{barrier: barrier})
	e.mu.Unlock()
	e.signal()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers what is queued and stops the delivery goroutine.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.signal()

	<-e.done
	return nil
}

func (e *Emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Emitter) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		closed := e.closed
		e.mu.Unlock()

		for _, it := range batch {
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			e.deliver(it.event)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-e.wake
	}
}

func (e *Emitter) deliver(event models.Event) {
	if e.validator != nil {
		if err := e.validator.Validate(event); err != nil {
			e.metrics.RecordEventDropped(event.Type, dropInvalid)
			e.log.Error().Err(err).Str("sessionId", event.SessionID).Msg("Dropping invalid event")
			return
		}
	}

	e.sinkMu.RLock()
	sink := e.sink
	e.sinkMu.RUnlock()

	if sink == nil {
		e.metrics.RecordEventDropped(event.Type, dropDetached)
		e.log.Warn().
			Str("type", event.Type).
			Str("sessionId", event.SessionID).
			Msg("No event sink attached, dropping event")
	} else if err := e.deliverTo(sink, event); err != nil {
		e.metrics.RecordEventDropped(event.Type, dropSinkError)
		e.log.Warn().Err(err).
			Str("type", event.Type).
			Str("sessionId", event.SessionID).
			Msg("Event sink failed")
	} else {
		e.metrics.RecordEventEmitted(event.Type)
	}

	for _, tap := range e.taps {
		if err := e.deliverTo(tap, event); err != nil {
			e.log.Error().Err(err).
				Str("type", event.Type).
				Str("sessionId", event.SessionID).
				Msg("Event tap failed")
		}
	}
}

func (e *Emitter) deliverTo(sink Sink, event models.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.deliverTimeout)
	defer cancel()
	return sink.Deliver(ctx, event)
}
