package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-session-service/internal/events"
	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/audio"
	"speech-session-service/internal/service/permission"
	"speech-session-service/internal/service/session"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	shutdownWait   = 5 * time.Second
)

// Conn is one host connection. It owns its controller, emitter and
// permission gate, and is itself the emitter's host sink.
type Conn struct {
	id         string
	ws         *websocket.Conn
	controller *session.Controller
	emitter    *events.Emitter
	gate       *permission.Gate
	audio      *audio.Handler
	metrics    *metrics.Metrics
	log        zerolog.Logger
	openedAt   time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Deliver writes one event to the host.
func (c *Conn) Deliver(ctx context.Context, event models.Event) error {
	return c.writeJSON(ctx, event)
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// serve reads frames until the host disconnects, then releases the session.
func (c *Conn) serve(ctx context.Context) {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("Connection closed unexpectedly")
			} else {
				c.log.Debug().Err(err).Msg("Connection closed")
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			c.handleRequest(ctx, data)
		case websocket.BinaryMessage:
			c.handleAudio(ctx, data)
		}
	}
}

func (c *Conn) handleRequest(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
		c.log.Debug().Err(err).Msg("Malformed request")
		c.reply(ctx, Response{ID: req.ID, Error: errorReply(errMalformedRequest)})
		return
	}

	result, err := c.dispatch(ctx, req)
	if err != nil {
		c.log.Info().Str("method", req.Method).Str("code", session.CodeOf(err)).Msg("Method call failed")
		c.reply(ctx, Response{ID: req.ID, Error: errorReply(err)})
		return
	}
	c.reply(ctx, Response{ID: req.ID, Result: result})
}

func (c *Conn) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodStart:
		args, err := decodeLocale(req.Arguments)
		if err != nil {
			return nil, session.ErrInvalidArguments
		}
		id, err := c.controller.Start(ctx, args.value())
		if err != nil {
			return nil, err
		}
		c.audio.Reset(id)
		return StartResult{SessionID: id}, nil

	case MethodStop:
		if err := c.controller.Stop(ctx); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil

	case MethodIsAvailable:
		args, err := decodeLocale(req.Arguments)
		if err != nil {
			return nil, session.ErrInvalidArguments
		}
		return AvailabilityResult{Available: c.controller.IsEngineAvailable(ctx, args.value())}, nil

	case MethodHasPermission:
		return PermissionResult{Granted: c.controller.HasPermission(ctx), Required: c.gate.Required()}, nil

	case MethodRequestPermissions:
		return PermissionResult{Granted: c.gate.Grant(), Required: c.gate.Required()}, nil

	case MethodListen:
		c.emitter.Attach(c)
		return Ack{OK: true}, nil

	case MethodCancel:
		c.emitter.Detach()
		return Ack{OK: true}, nil

	case MethodStatus:
		return c.controller.Status(), nil

	default:
		return nil, errUnknownMethod
	}
}

func decodeLocale(raw json.RawMessage) (localeArgs, error) {
	var args localeArgs
	if len(raw) == 0 {
		return args, nil
	}
	err := json.Unmarshal(raw, &args)
	return args, err
}

func (c *Conn) handleAudio(ctx context.Context, frame []byte) {
	err := c.audio.SendAudio(ctx, frame)
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrFrameTooLarge):
		c.log.Warn().Err(err).Msg("Dropping oversized audio frame")
	case errors.Is(err, audio.ErrSessionLimitExceed):
		c.log.Debug().Err(err).Msg("Audio refused")
	default:
		c.log.Debug().Err(err).Msg("Audio not forwarded")
	}
}

func (c *Conn) reply(ctx context.Context, resp Response) {
	if err := c.writeJSON(ctx, resp); err != nil {
		c.log.Warn().Err(err).Int64("id", resp.ID).Msg("Failed to write reply")
	}
}

// cleanup detaches the host before shutting the controller down, so the end
// event of a running session only reaches the taps.
func (c *Conn) cleanup() {
	c.emitter.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := c.controller.Shutdown(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to shut down session")
	}
	if err := c.emitter.Flush(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Session events not delivered before close")
	}
	if err := c.emitter.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close emitter")
	}
	c.close()

	duration := time.Since(c.openedAt)
	c.metrics.RecordConnectionEnd(duration.Seconds())
	st := c.audio.Stats()
	c.log.Info().
		Dur("duration", duration).
		Str("lastSessionId", st.SessionID).
		Int64("audioBytes", st.Bytes).
		Int("audioFrames", st.Frames).
		Int("audioDropped", st.Dropped).
		Msg("Host disconnected")
}

// close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}
