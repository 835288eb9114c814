// Package schema validates outbound session events before delivery.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"speech-session-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the envelope and that the payload matches the event type.
func (v *Validator) Validate(event models.Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
	}
	if event.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}

	switch event.Type {
	case models.EventSpeechResult:
		r, ok := event.Data.(models.SpeechResult)
		if !ok {
			return fmt.Errorf("%w: %s carries %T", ErrInvalidEvent, event.Type, event.Data)
		}
		if r.Transcript == "" {
			return fmt.Errorf("%w: empty transcript", ErrInvalidEvent)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEvent, r.Confidence)
		}
	case models.EventSpeechEnd:
		if _, ok := event.Data.(models.SpeechEnd); !ok {
			return fmt.Errorf("%w: %s carries %T", ErrInvalidEvent, event.Type, event.Data)
		}
	case models.EventSpeechError:
		e, ok := event.Data.(models.SpeechError)
		if !ok {
			return fmt.Errorf("%w: %s carries %T", ErrInvalidEvent, event.Type, event.Data)
		}
		if e.Code == "" {
			return fmt.Errorf("%w: empty error code", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}

	log.Trace().Str("type", event.Type).Str("sessionId", event.SessionID).Msg("schema validated")
	return nil
}
