package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-session-service/internal/events"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/schema"
	"speech-session-service/internal/service/audio"
	"speech-session-service/internal/service/permission"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
)

// Config holds what every connection is built from.
type Config struct {
	Engine            stt.Engine
	Session           session.Config
	AudioLimits       audio.Limits
	RequirePermission bool
	DeliverTimeout    time.Duration
	// Taps receive every event of every connection (Kafka publisher).
	Taps      []events.Sink
	Validator *schema.Validator
	Metrics   *metrics.Metrics
	// CheckOrigin overrides the same-origin check of the upgrader.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades HTTP requests and serves one session per connection.
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	closing  bool
	inflight sync.WaitGroup
}

// NewHandler creates a WebSocket handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	if cfg.Validator == nil {
		cfg.Validator = schema.New()
	}
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		log:   logging.WithComponent("ws"),
		conns: make(map[*Conn]struct{}),
	}
}

// ServeHTTP blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	c := h.newConn(wsConn, r.RemoteAddr)
	if !h.register(c) {
		_ = c.emitter.Close()
		c.close()
		return
	}
	defer h.unregister(c)

	c.metrics.RecordConnectionStart()
	c.log.Info().Msg("Host connected")

	// Hijacked connections outlive the request context.
	c.serve(context.WithoutCancel(r.Context()))
}

func (h *Handler) newConn(wsConn *websocket.Conn, remoteAddr string) *Conn {
	id := uuid.NewString()
	emitter := events.NewEmitter(events.EmitterConfig{
		DeliverTimeout: h.cfg.DeliverTimeout,
		Taps:           h.cfg.Taps,
		Validator:      h.cfg.Validator,
		Metrics:        h.cfg.Metrics,
	})
	gate := permission.NewGate(h.cfg.RequirePermission)
	controller := session.NewController(h.cfg.Engine, emitter, gate, h.cfg.Session, h.cfg.Metrics)

	return &Conn{
		id:         id,
		ws:         wsConn,
		controller: controller,
		emitter:    emitter,
		gate:       gate,
		audio:      audio.NewHandler(controller, h.cfg.AudioLimits, h.cfg.Metrics),
		metrics:    h.cfg.Metrics,
		log:        logging.WithConnection(id, remoteAddr),
		openedAt:   time.Now(),
	}
}

func (h *Handler) register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Handler) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// ActiveConnections returns the number of open host connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown refuses new connections, closes open ones and waits until their
// sessions have ended and their events were delivered to the taps.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		open = append(open, c)
	}
	h.mu.Unlock()

	h.log.Info().Int("connections", len(open)).Msg("Closing host connections")
	for _, c := range open {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
