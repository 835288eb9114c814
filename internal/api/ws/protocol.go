// Package ws exposes a session controller to a host application over a
// WebSocket. Text frames carry method calls and replies, binary frames carry
// audio, and session events are pushed as text frames once the host listens.
package ws

import (
	"encoding/json"
	"errors"

	"speech-session-service/internal/service/session"
)

// Host methods.
const (
	MethodStart              = "start"
	MethodStop               = "stop"
	MethodIsAvailable        = "isAvailable"
	MethodHasPermission      = "hasPermission"
	MethodRequestPermissions = "requestPermissions"
	MethodListen             = "listen"
	MethodCancel             = "cancel"
	MethodStatus             = "status"
)

// Request is a method call from the host.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response answers exactly one Request. Exactly one of Result and Error is set.
type Response struct {
	ID     int64       `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *ErrorReply `json:"error,omitempty"`
}

// ErrorReply is the wire form of a failed call.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// localeArgs accepts both "language" (mobile plugin naming) and "locale".
type localeArgs struct {
	Language string `json:"language"`
	Locale   string `json:"locale"`
}

func (a localeArgs) value() string {
	if a.Language != "" {
		return a.Language
	}
	return a.Locale
}

// StartResult is returned by start.
type StartResult struct {
	SessionID string `json:"sessionId"`
}

// AvailabilityResult is returned by isAvailable.
type AvailabilityResult struct {
	Available bool `json:"available"`
}

// PermissionResult is returned by hasPermission and requestPermissions.
// Required tells the host whether it has to ask at all.
type PermissionResult struct {
	Granted  bool `json:"granted"`
	Required bool `json:"required"`
}

// Ack is returned by calls without a payload.
type Ack struct {
	OK bool `json:"ok"`
}

var errUnknownMethod = &session.Error{Code: session.ErrInvalidArguments.Code, Message: "Unknown method"}

var errMalformedRequest = &session.Error{Code: session.ErrInvalidArguments.Code, Message: "Malformed request"}

func errorReply(err error) *ErrorReply {
	var se *session.Error
	if errors.As(err, &se) {
		return &ErrorReply{Code: se.Code, Message: se.Message}
	}
	return &ErrorReply{Code: session.CodeOf(err), Message: err.Error()}
}
