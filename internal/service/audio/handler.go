// Package audio forwards host audio frames to the live recognition session.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/session"
)

// Errors returned by SendAudio.
var (
	ErrFrameTooLarge      = errors.New("audio frame too large")
	ErrSessionLimitExceed = errors.New("session audio limit exceeded")
)

// Rejection reasons recorded in metrics.
const (
	rejectFrameTooLarge = "frame_too_large"
	rejectSessionLimit  = "session_limit"
	rejectNoInvocation  = "no_invocation"
	rejectEngineError   = "engine_error"
)

// Limits defines safety guardrails for audio forwarding.
// These prevent unbounded resource usage by a single host.
type Limits struct {
	MaxFrameBytes      int           // Max size of one binary frame
	MaxSessionBytes    int64         // Max audio per session
	MaxSessionDuration time.Duration // Max session duration
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes:      64 * 1024,         // 64KB (~2s at 16kHz 16-bit mono)
		MaxSessionBytes:    200 * 1024 * 1024, // 200MB (~1.8h at 16kHz 16-bit mono)
		MaxSessionDuration: 2 * time.Hour,
	}
}

// Target receives forwarded audio. *session.Controller satisfies it.
type Target interface {
	SendAudio(ctx context.Context, frame []byte) error
	Stop(ctx context.Context) error
}

// Stats holds usage counters of the current session.
type Stats struct {
	SessionID string
	Bytes     int64
	Frames    int
	Dropped   int
	Duration  time.Duration
}

// Handler forwards audio for one host connection. Audio that arrives while
// the engine is between invocations is dropped; the restart window is short
// and the engine cannot buffer it.
type Handler struct {
	target  Target
	limits  Limits
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu           sync.Mutex
	sessionID    string
	sessionStart time.Time
	bytes        int64
	frames       int
	dropped      int
	limitHit     bool
}

// NewHandler creates a new audio handler.
func NewHandler(target Target, limits Limits, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		target:       target,
		limits:       limits,
		metrics:      m,
		log:          logging.WithComponent("audio"),
		sessionStart: time.Now(),
	}
}

// Reset starts accounting for a new session.
func (h *Handler) Reset(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = sessionID
	h.sessionStart = time.Now()
	h.bytes = 0
	h.frames = 0
	h.dropped = 0
	h.limitHit = false
}

// SendAudio forwards one frame. Exceeding a session limit stops the session.
func (h *Handler) SendAudio(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	if h.limits.MaxFrameBytes > 0 && len(frame) > h.limits.MaxFrameBytes {
		h.metrics.RecordAudioRejected(rejectFrameTooLarge)
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), h.limits.MaxFrameBytes)
	}

	h.mu.Lock()
	if h.limitHit {
		h.mu.Unlock()
		h.metrics.RecordAudioRejected(rejectSessionLimit)
		return ErrSessionLimitExceed
	}
	h.bytes += int64(len(frame))
	h.frames++
	var reason string
	switch {
	case h.limits.MaxSessionBytes > 0 && h.bytes > h.limits.MaxSessionBytes:
		reason = fmt.Sprintf("max session bytes exceeded: %d > %d", h.bytes, h.limits.MaxSessionBytes)
	case h.limits.MaxSessionDuration > 0 && time.Since(h.sessionStart) > h.limits.MaxSessionDuration:
		reason = fmt.Sprintf("max session duration exceeded: %v", h.limits.MaxSessionDuration)
	}
	if reason != "" {
		h.limitHit = true
	}
	sessionID := h.sessionID
	h.mu.Unlock()

	if reason != "" {
		h.metrics.RecordAudioRejected(rejectSessionLimit)
		h.log.Warn().Str("sessionId", sessionID).Str("reason", reason).Msg("Stopping session at audio limit")
		if err := h.target.Stop(ctx); err != nil {
			h.log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to stop session")
		}
		return fmt.Errorf("%w: %s", ErrSessionLimitExceed, reason)
	}

	err := h.target.SendAudio(ctx, frame)
	switch {
	case err == nil:
		h.metrics.RecordAudioReceived(len(frame))
		return nil
	case errors.Is(err, session.ErrNoActiveInvocation):
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.metrics.RecordAudioRejected(rejectNoInvocation)
		return nil
	default:
		h.metrics.RecordAudioRejected(rejectEngineError)
		h.log.Debug().Err(err).Str("sessionId", sessionID).Msg("Engine rejected audio")
		return err
	}
}

// Stats returns usage counters of the current session.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		SessionID: h.sessionID,
		Bytes:     h.bytes,
		Frames:    h.frames,
		Dropped:   h.dropped,
		Duration:  time.Since(h.sessionStart),
	}
}
