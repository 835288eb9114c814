package session

import (
	"errors"

	"speech-session-service/internal/service/stt"
)

// Error is a synchronous command failure carrying a stable host-facing code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on the host code so callers can use errors.Is with the
// sentinels below regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Precondition sentinels returned by Controller.Start.
var (
	ErrInvalidArguments = &Error{Code: stt.CodeInvalidArguments, Message: "Language is required"}
	ErrPermissionDenied = &Error{Code: stt.CodePermissionDenied, Message: "Microphone permission not granted"}
	ErrNotAvailable     = &Error{Code: stt.CodeNotAvailable, Message: "Speech recognition not available"}
	ErrStartFailed      = &Error{Code: stt.CodeStartFailed, Message: "Failed to start recognition"}
)

// ErrNoActiveInvocation is returned by SendAudio when no engine invocation is live.
var ErrNoActiveInvocation = errors.New("no active engine invocation")

// CodeOf extracts the host code of err, defaulting to UNKNOWN_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return stt.CodeUnknownError
}

func startFailed(err error) *Error {
	return &Error{Code: stt.CodeStartFailed, Message: "Failed to start recognition", Err: err}
}
