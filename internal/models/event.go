// Package models defines the data structures for session events.
package models

import "time"

// Event type discriminators as seen by the host.
const (
	EventSpeechResult = "onSpeechResult"
	EventSpeechEnd    = "onSpeechEnd"
	EventSpeechError  = "onSpeechError"
)

// Event is one outbound message of a session. Events are values and are
// never mutated after construction.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// SpeechResult carries the effective transcript of the session.
type SpeechResult struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

// SpeechEnd marks the end of a session. It is always the last event.
type SpeechEnd struct{}

// SpeechError carries a normalized fatal error.
type SpeechError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResultEvent builds an onSpeechResult event.
func NewResultEvent(sessionID, transcript string, isFinal bool, confidence float64) Event {
	return Event{
		Type:      EventSpeechResult,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data: SpeechResult{
			Transcript: transcript,
			IsFinal:    isFinal,
			Confidence: confidence,
		},
	}
}

// NewEndEvent builds an onSpeechEnd event.
func NewEndEvent(sessionID string) Event {
	return Event{
		Type:      EventSpeechEnd,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      SpeechEnd{},
	}
}

// NewErrorEvent builds an onSpeechError event.
func NewErrorEvent(sessionID, code, message string) Event {
	return Event{
		Type:      EventSpeechError,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data: SpeechError{
			Code:    code,
			Message: message,
		},
	}
}
