// Package stt defines the contract between the session controller and
// external speech recognition engines (Google, mock, ...).
package stt

import (
	"context"
	"errors"
)

// ErrEngineClosed is returned when an invocation is requested from an engine
// that has already been shut down.
var ErrEngineClosed = errors.New("stt engine closed")

// Callback receives recognition results from a single engine invocation.
//
// Engines must deliver callbacks asynchronously: never from inside
// StartSession or Invocation.Stop.
type Callback interface {
	// OnPartial is called with an interim hypothesis for the live utterance.
	OnPartial(text string, confidence float64)

	// OnFinal is called when the engine settles the utterance.
	OnFinal(text string, confidence float64)

	// OnError is called when the invocation fails. No further callbacks follow.
	OnError(code ErrorCode)

	// OnSilenceBoundary is called when the engine detects end of speech
	// before it reports a final result or an error.
	OnSilenceBoundary()
}

// Invocation is one single-utterance recognition call against an engine.
type Invocation interface {
	// ID identifies the invocation in logs.
	ID() string

	// SendAudio forwards an audio frame to the engine.
	SendAudio(ctx context.Context, audio []byte) error

	// Stop tears the invocation down. Idempotent.
	Stop() error
}

// Engine starts recognition invocations. Implementations must be safe for
// concurrent use.
type Engine interface {
	// Name is the provider label used in logs and metrics.
	Name() string

	// IsAvailable reports whether the engine can recognize the locale.
	IsAvailable(ctx context.Context, locale string) bool

	// StartSession begins one invocation. id is assigned by the caller.
	StartSession(ctx context.Context, id, locale string, cb Callback) (Invocation, error)
}
