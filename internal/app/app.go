package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"speech-session-service/internal/api/ws"
	"speech-session-service/internal/config"
	"speech-session-service/internal/events"
	httpapi "speech-session-service/internal/http"
	"speech-session-service/internal/observability"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/schema"
	"speech-session-service/internal/service/audio"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/stt/google"
	"speech-session-service/internal/service/stt/mock"
)

const shutdownTimeout = 15 * time.Second

// Engine is a recognition engine owned by the application.
type Engine interface {
	stt.Engine
	Close() error
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics
	Engine      Engine
	Publisher   *events.Publisher
	Speech      *ws.Handler

	httpServer *http.Server
	obsServer  *observability.Server
	ready      atomic.Bool
}

// Option customizes an Application.
type Option func(*options)

type options struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
}

// WithRegistry records metrics into reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
		o.gatherer = reg
	}
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Metrics: metrics.DefaultMetrics,
	}
	if o.registry != nil {
		a.Metrics = metrics.NewMetrics(o.registry)
	}

	engine, err := newEngine(ctx, cfg.STT)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Async:     cfg.Kafka.Async,
	})

	a.Speech = ws.NewHandler(ws.Config{
		Engine: engine,
		Session: session.Config{
			MaxRestarts:  cfg.Session.MaxRestarts,
			RestartDelay: cfg.Session.RestartDelay,
		},
		AudioLimits: audio.Limits{
			MaxFrameBytes:      cfg.Audio.MaxFrameBytes,
			MaxSessionBytes:    cfg.Audio.MaxSessionBytes,
			MaxSessionDuration: cfg.Audio.MaxSessionDuration,
		},
		RequirePermission: cfg.Session.RequirePermission,
		DeliverTimeout:    cfg.Session.DeliverTimeout,
		Taps:              []events.Sink{a.Publisher},
		Validator:         schema.New(),
		Metrics:           a.Metrics,
	})

	a.httpServer = &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Engine:  engine,
			Speech:  a.Speech,
			Metrics: a.Metrics,
			Ready:   a.Ready,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.obsServer = observability.NewServer(cfg.Observability.MetricsAddr, o.gatherer, a.Ready)

	a.Logger.Info().
		Str("sttProvider", engine.Name()).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Bool("requirePermission", cfg.Session.RequirePermission).
		Msg("Speech session service application created")
	return a, nil
}

func newEngine(ctx context.Context, cfg config.STTConfig) (Engine, error) {
	switch cfg.Provider {
	case "google":
		e, err := google.New(ctx, google.Config{
			SampleRateHz:       cfg.SampleRateHz,
			InterimResults:     cfg.InterimResults,
			AudioEncoding:      cfg.AudioEncoding,
			Model:              cfg.Model,
			Locales:            cfg.Locales,
			SpeechStartTimeout: cfg.SpeechStartTimeout,
			SpeechEndTimeout:   cfg.SpeechEndTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("google stt engine: %w", err)
		}
		return e, nil
	case "mock", "":
		mc := mock.DefaultConfig()
		mc.Locales = cfg.Locales
		mc.SpeechStartTimeout = cfg.SpeechStartTimeout
		return mock.New(mc), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// Ready reports whether the service accepts new host connections.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.httpServer.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", lis.Addr().String()).Msg("Starting HTTP server")
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.obsServer.ListenAndServe(); err != nil {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech session service started")

	return g.Wait()
}

// Shutdown ends every host session, then stops the servers and releases
// the engine and the Kafka writer.
func (a *Application) Shutdown() error {
	a.ready.Store(false)
	a.Logger.Info().Msg("Speech session service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Speech.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close host connections: %w", err))
	}
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.obsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability server shutdown: %w", err))
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka publisher: %w", err))
	}
	if err := a.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stt engine: %w", err))
	}
	return errors.Join(errs...)
}
