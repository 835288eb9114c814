// Package mock provides a mock STT engine for running without cloud credentials.
// Each invocation simulates one utterance: progressive partial transcripts as
// audio arrives, then an end-of-speech boundary and exactly one final result
// (or a scripted error).
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"speech-session-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
	// Error, when set, ends the invocation with this code instead of a final.
	Error stt.ErrorCode
}

// DefaultUtterances provides sample utterances for simulation. The silent
// entry makes a long-running session exercise the restart path.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Take", "Take a", "Take a note"},
		Final:      "Take a note",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"buy", "buy milk", "buy milk and"},
		Final:      "buy milk and eggs",
		Confidence: 0.91,
	},
	{
		Error: stt.ErrorNoMatch,
	},
	{
		Partials:   []string{"call", "call the", "call the dentist"},
		Final:      "call the dentist tomorrow",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you",
		Confidence: 0.98,
	},
}

// Config holds mock engine configuration.
type Config struct {
	Utterances []SimulatedUtterance
	// Locales lists the locales reported as available. Empty means all.
	Locales      []string
	PartialDelay time.Duration
	FinalDelay   time.Duration
	// SpeechStartTimeout ends an invocation with SPEECH_TIMEOUT when no
	// audio arrives in time. Zero disables it.
	SpeechStartTimeout time.Duration
}

// DefaultConfig returns mock timings close to a real engine.
func DefaultConfig() Config {
	return Config{
		Utterances:         DefaultUtterances,
		PartialDelay:       50 * time.Millisecond,
		FinalDelay:         100 * time.Millisecond,
		SpeechStartTimeout: 5 * time.Second,
	}
}

// Engine implements stt.Engine with simulated responses.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	next   int // cycles through cfg.Utterances
	closed bool
}

// New creates a new mock STT engine.
func New(cfg Config) *Engine {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	return &Engine{cfg: cfg}
}

// Name returns the provider label.
func (e *Engine) Name() string {
	return "mock"
}

// IsAvailable reports whether locale is in the configured list.
func (e *Engine) IsAvailable(ctx context.Context, locale string) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	if len(e.cfg.Locales) == 0 {
		return true
	}
	for _, l := range e.cfg.Locales {
		if strings.EqualFold(l, locale) {
			return true
		}
	}
	return false
}

// StartSession begins one simulated utterance.
func (e *Engine) StartSession(ctx context.Context, id, locale string, cb stt.Callback) (stt.Invocation, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, stt.ErrEngineClosed
	}
	utt := e.cfg.Utterances[e.next%len(e.cfg.Utterances)]
	e.next++
	e.mu.Unlock()

	inv := &Invocation{
		id:        id,
		cb:        cb,
		utterance: utt,
		cfg:       e.cfg,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if e.cfg.SpeechStartTimeout > 0 {
		inv.startTimer = time.AfterFunc(e.cfg.SpeechStartTimeout, func() {
			inv.finish(func(cb stt.Callback) { cb.OnError(stt.ErrorSpeechTimeout) })
		})
	}
	go inv.run()
	return inv, nil
}

// Close makes the engine refuse new invocations.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// step is one scheduled callback. Steps run in the order they were queued,
// each after its delay has elapsed since the previous one was delivered.
type step struct {
	delay time.Duration
	fn    func(cb stt.Callback)
	last  bool
}

// Invocation is one simulated utterance.
// It simulates realistic STT behavior:
// - Multiple partial transcripts as audio is received
// - End of speech, then exactly one final transcript
// - No callbacks once stopped
type Invocation struct {
	id        string
	cb        stt.Callback
	utterance SimulatedUtterance
	cfg       Config

	mu            sync.Mutex
	audioReceived int // Count of audio frames received
	partialIndex  int // Next partial to send
	finished      bool
	closed        bool
	startTimer    *time.Timer
	pending       []step
	wake          chan struct{}
	done          chan struct{}
}

// ID returns the invocation ID.
func (i *Invocation) ID() string {
	return i.id
}

// SendAudio simulates receiving audio and triggers progressive partial transcripts.
// When all partials are sent, it simulates end-of-speech detection.
func (i *Invocation) SendAudio(ctx context.Context, audio []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return stt.ErrEngineClosed
	}
	if i.finished {
		return nil
	}

	i.audioReceived++
	if i.startTimer != nil {
		i.startTimer.Stop()
		i.startTimer = nil
	}

	// One partial per audio frame
	if i.partialIndex < len(i.utterance.Partials) {
		text := i.utterance.Partials[i.partialIndex]
		i.partialIndex++
		confidence := i.utterance.Confidence
		i.enqueue(step{
			delay: i.cfg.PartialDelay,
			fn:    func(cb stt.Callback) { cb.OnPartial(text, confidence) },
		})
		return nil
	}

	// All partials sent: the speaker stopped talking
	i.finished = true
	utt := i.utterance
	i.enqueue(step{
		delay: i.cfg.FinalDelay,
		fn: func(cb stt.Callback) {
			cb.OnSilenceBoundary()
			if utt.Error != 0 {
				cb.OnError(utt.Error)
				return
			}
			cb.OnFinal(utt.Final, utt.Confidence)
		},
		last: true,
	})
	return nil
}

// Stop ends the simulated invocation. Pending callbacks are discarded.
func (i *Invocation) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.pending = nil
	if i.startTimer != nil {
		i.startTimer.Stop()
	}
	close(i.done)
	return nil
}

// enqueue appends s for the delivery goroutine. Callers hold mu.
func (i *Invocation) enqueue(s step) {
	i.pending = append(i.pending, s)
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// run delivers queued steps one at a time until the terminal step was
// delivered or the invocation is stopped.
func (i *Invocation) run() {
	for {
		i.mu.Lock()
		if len(i.pending) == 0 {
			i.mu.Unlock()
			select {
			case <-i.wake:
				continue
			case <-i.done:
				return
			}
		}
		s := i.pending[0]
		i.pending = i.pending[1:]
		i.mu.Unlock()

		if s.delay > 0 {
			t := time.NewTimer(s.delay)
			select {
			case <-t.C:
			case <-i.done:
				t.Stop()
				return
			}
		}
		i.deliver(s.fn)
		if s.last {
			return
		}
	}
}

// deliver runs fn outside the mutex unless the invocation was stopped.
func (i *Invocation) deliver(fn func(cb stt.Callback)) {
	i.mu.Lock()
	if i.closed || i.cb == nil {
		i.mu.Unlock()
		return
	}
	cb := i.cb
	i.mu.Unlock()

	fn(cb)
}

// finish queues a terminal callback raised without audio.
func (i *Invocation) finish(fn func(cb stt.Callback)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.finished || i.closed {
		return
	}
	i.finished = true
	i.enqueue(step{fn: fn, last: true})
}
