package session

import "strings"

// Transcript accumulates text across consecutive engine invocations of one
// session. Fragments are applied strictly in arrival order.
// It is not safe for concurrent use; the controller guards it with its mutex.
type Transcript struct {
	accumulated    string
	currentPartial string
	lastConfidence float64
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// OnFragment applies one engine fragment. A final fragment is appended to the
// confirmed text and clears the in-flight partial; a non-final fragment
// replaces the in-flight partial.
func (t *Transcript) OnFragment(text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if !isFinal {
		t.currentPartial = text
		return
	}

	t.currentPartial = ""
	if text == "" {
		return
	}
	if t.accumulated == "" {
		t.accumulated = text
		return
	}
	t.accumulated = t.accumulated + " " + text
}

// SetConfidence records the engine confidence of the latest fragment,
// clamped to [0,1].
func (t *Transcript) SetConfidence(confidence float64) {
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	t.lastConfidence = confidence
}

// Effective returns the confirmed text followed by the in-flight partial.
func (t *Transcript) Effective() string {
	switch {
	case t.currentPartial == "":
		return t.accumulated
	case t.accumulated == "":
		return t.currentPartial
	default:
		return t.accumulated + " " + t.currentPartial
	}
}

// Accumulated returns only the confirmed text.
func (t *Transcript) Accumulated() string {
	return t.accumulated
}

// LastConfidence returns the confidence of the latest non-empty fragment.
func (t *Transcript) LastConfidence() float64 {
	return t.lastConfidence
}
