package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/stt"
)

// One in this many interim transcripts is logged.
const partialLogSampling = 10

// Emitter accepts outbound session events. Emit must not block on host I/O;
// the controller calls it while holding its lock.
type Emitter interface {
	Emit(event models.Event)
}

// PermissionChecker reports whether the audio capture precondition holds.
type PermissionChecker interface {
	HasPermission(ctx context.Context) bool
}

// Config holds controller tunables.
type Config struct {
	MaxRestarts  int
	RestartDelay time.Duration
	// AfterFunc replaces the runtime timer in tests.
	AfterFunc AfterFunc
}

// DefaultConfig returns the default restart budget and settle delay.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:  DefaultMaxRestarts,
		RestartDelay: DefaultRestartDelay,
	}
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State          string `json:"state"`
	Active         bool   `json:"active"`
	SessionID      string `json:"sessionId,omitempty"`
	Locale         string `json:"locale,omitempty"`
	RestartCount   int    `json:"restartCount"`
	RestartPending bool   `json:"restartPending"`
	// Transcript includes the interim hypothesis; Confirmed only settled text.
	Transcript string `json:"transcript"`
	Confirmed  string `json:"confirmed"`
}

// Controller runs continuous recognition sessions on top of a
// single-utterance engine. One controller serves one host.
//
// Every mutation happens under mu: user commands, engine callbacks and
// restart timer fires. Callbacks carry the identity of the session and
// invocation they were created for and are dropped once either is stale.
type Controller struct {
	engine      stt.Engine
	permissions PermissionChecker
	emitter     Emitter
	metrics     *metrics.Metrics
	ids         *IDGenerator
	cfg         Config
	log         zerolog.Logger

	mu        sync.Mutex
	lifecycle *Lifecycle
	current   *session
	closed    bool
}

type session struct {
	id              string
	locale          string
	startedAt       time.Time
	manuallyStopped bool
	active          bool

	transcript *Transcript
	restarts   *RestartScheduler
	inv        *invocation

	// ctx outlives the start request and is cancelled when the session ends.
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
	partialLog zerolog.Logger
}

// invocation is one engine invocation. handle is nil while a restart is
// still opening it.
type invocation struct {
	id        string
	handle    stt.Invocation
	createdAt time.Time
	log       zerolog.Logger
}

// NewController creates a controller. A nil permissions checker treats the
// precondition as always satisfied; nil metrics use the global instance.
func NewController(engine stt.Engine, emitter Emitter, permissions PermissionChecker, cfg Config, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Controller{
		engine:      engine,
		permissions: permissions,
		emitter:     emitter,
		metrics:     m,
		ids:         NewIDGenerator(),
		cfg:         cfg,
		log:         logging.WithComponent("session"),
		lifecycle:   NewLifecycle(),
	}
}

// Start begins a new session for locale and returns its ID. Precondition
// failures are returned synchronously as *Error and produce no events. A
// session that is still running is ended first and receives its end event.
func (c *Controller) Start(ctx context.Context, locale string) (string, error) {
	tag, ok := parseLocale(locale)
	if !ok {
		return "", c.reject(ErrInvalidArguments)
	}
	canonical := tag.String()

	if !c.HasPermission(ctx) {
		return "", c.reject(ErrPermissionDenied)
	}
	if !c.engine.IsAvailable(ctx, canonical) {
		return "", c.reject(ErrNotAvailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", c.reject(ErrNotAvailable)
	}

	if prev := c.current; prev != nil && prev.active {
		prev.log.Info().Msg("Session superseded by new start")
		prev.manuallyStopped = true
		c.endSession(prev, metrics.EndReasonSuperseded, nil)
	}

	id := c.ids.NewSession()
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		id:         id,
		locale:     canonical,
		startedAt:  time.Now(),
		active:     true,
		transcript: NewTranscript(),
		restarts:   NewRestartScheduler(c.cfg.MaxRestarts, c.cfg.RestartDelay, c.cfg.AfterFunc),
		ctx:        sessCtx,
		cancel:     cancel,
		log:        logging.WithSession(id, canonical),
	}
	sess.partialLog = logging.Sampled(sess.log, partialLogSampling)

	if err := c.startInvocation(sess); err != nil {
		cancel()
		sess.log.Error().Err(err).Msg("Engine refused first invocation")
		return "", c.reject(startFailed(err))
	}

	if err := c.lifecycle.Transition(StateListening); err != nil {
		sess.log.Error().Err(err).Msg("Unexpected lifecycle state on start")
	}
	c.current = sess
	c.metrics.RecordSessionStart()

	sess.log.Info().
		Str("sttProvider", c.engine.Name()).
		Int("maxRestarts", sess.restarts.Max()).
		Msg("Session started")

	return id, nil
}

// Stop ends the running session: the effective transcript is flushed as a
// final result and the end event follows. Stop is idempotent and returns nil
// when nothing is running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.current
	if sess == nil || !sess.active {
		c.log.Debug().Msg("Stop with no active session")
		return nil
	}
	c.stopLocked(sess, metrics.EndReasonUserStop)
	return nil
}

// Shutdown stops the running session and refuses further starts. It is
// called when the host goes away.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if sess := c.current; sess != nil && sess.active {
		c.stopLocked(sess, metrics.EndReasonShutdown)
	}
	return nil
}

// SendAudio forwards one frame to the live invocation. It returns
// ErrNoActiveInvocation while no invocation is live, for example between
// a teardown and the restart that follows it.
func (c *Controller) SendAudio(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	sess := c.current
	if sess == nil || !sess.active || sess.inv == nil || sess.inv.handle == nil {
		c.mu.Unlock()
		return ErrNoActiveInvocation
	}
	handle := sess.inv.handle
	c.mu.Unlock()

	return handle.SendAudio(ctx, frame)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.lifecycle.State()
	st := Status{State: state.String(), Active: state.IsActive()}
	if sess := c.current; sess != nil {
		st.SessionID = sess.id
		st.Locale = sess.locale
		st.RestartCount = sess.restarts.Count()
		st.RestartPending = sess.restarts.Pending()
		st.Transcript = sess.transcript.Effective()
		st.Confirmed = sess.transcript.Accumulated()
	}
	return st
}

// IsEngineAvailable reports whether the engine can recognize locale.
func (c *Controller) IsEngineAvailable(ctx context.Context, locale string) bool {
	tag, ok := parseLocale(locale)
	if !ok {
		return false
	}
	return c.engine.IsAvailable(ctx, tag.String())
}

// HasPermission reports whether the audio capture precondition holds.
func (c *Controller) HasPermission(ctx context.Context) bool {
	if c.permissions == nil {
		return true
	}
	return c.permissions.HasPermission(ctx)
}

func parseLocale(locale string) (language.Tag, bool) {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.Und, false
	}
	tag, err := language.Parse(locale)
	if err != nil || tag == language.Und {
		return language.Und, false
	}
	return tag, true
}

func (c *Controller) reject(err *Error) error {
	c.metrics.RecordStartRejected(err.Code)
	c.log.Warn().Str("code", err.Code).Msg(err.Message)
	return err
}

// newInvocation reserves the next invocation of sess. Callers hold mu.
func (c *Controller) newInvocation(sess *session) (*invocation, stt.Callback) {
	id := c.ids.NextInvocation(sess.id)
	inv := &invocation{
		id:        id,
		createdAt: time.Now(),
		log:       logging.ForInvocation(sess.log, id, sess.restarts.Count()),
	}
	return inv, &invocationCallback{c: c, sess: sess, invocationID: id}
}

// install makes handle the live invocation of sess. Callers hold mu.
func (c *Controller) install(sess *session, inv *invocation, handle stt.Invocation) {
	inv.handle = handle
	sess.inv = inv
	c.metrics.RecordInvocation(c.engine.Name())
	inv.log.Debug().Msg("Engine invocation started")
}

// startInvocation opens the first invocation of sess while holding mu.
func (c *Controller) startInvocation(sess *session) error {
	inv, cb := c.newInvocation(sess)
	handle, err := c.engine.StartSession(sess.ctx, inv.id, sess.locale, cb)
	if err != nil {
		return err
	}
	c.install(sess, inv, handle)
	return nil
}

// teardown stops the live invocation. Failures are logged and swallowed. An
// invocation that is still opening is only detached; the restart that opens
// it stops the handle once it sees it was replaced.
func (c *Controller) teardown(sess *session) {
	inv := sess.inv
	if inv == nil {
		return
	}
	sess.inv = nil
	if inv.handle == nil {
		return
	}

	if err := inv.handle.Stop(); err != nil {
		c.metrics.RecordTeardownError()
		inv.log.Warn().Err(err).Msg("Engine teardown failed")
		return
	}
	inv.log.Debug().
		Dur("lifetime", time.Since(inv.createdAt)).
		Msg("Engine invocation stopped")
}

func (c *Controller) stopLocked(sess *session, reason string) {
	sess.manuallyStopped = true
	sess.active = false
	if err := c.lifecycle.Transition(StateStopping); err != nil {
		sess.log.Error().Err(err).Msg("Unexpected lifecycle state on stop")
	}
	sess.restarts.Cancel()
	c.teardown(sess)

	if text := sess.transcript.Effective(); text != "" {
		c.emitter.Emit(models.NewResultEvent(sess.id, text, true, sess.transcript.LastConfidence()))
	}
	c.finish(sess, reason)
}

// endSession terminates sess without a transcript flush. A non-nil failure
// is reported as an error event before the end event.
func (c *Controller) endSession(sess *session, reason string, failure *stt.Classification) {
	sess.active = false
	sess.restarts.Cancel()
	c.teardown(sess)

	if failure != nil {
		c.emitter.Emit(models.NewErrorEvent(sess.id, failure.Code, failure.Message))
	}
	c.finish(sess, reason)
}

func (c *Controller) finish(sess *session, reason string) {
	c.emitter.Emit(models.NewEndEvent(sess.id))
	sess.cancel()

	if err := c.lifecycle.Transition(StateTerminated); err != nil {
		sess.log.Error().Err(err).Msg("Unexpected lifecycle state on end")
	}
	duration := time.Since(sess.startedAt)
	c.metrics.RecordSessionEnd(reason, duration.Seconds())

	sess.log.Info().
		Str("reason", reason).
		Int("restarts", sess.restarts.Count()).
		Dur("duration", duration).
		Msg("Session ended")
}

// requestRestart asks the scheduler for a restart of the current invocation.
func (c *Controller) requestRestart(sess *session, cause string) {
	d := sess.restarts.Schedule(func() { c.fireRestart(sess) })

	switch d.Kind {
	case DecisionPending:
		sess.log.Debug().Str("cause", cause).Msg("Restart already pending")
	case DecisionAbort:
		sess.log.Warn().
			Int("restarts", d.Count).
			Str("cause", cause).
			Msg("Restart budget exhausted")
		c.endSession(sess, metrics.EndReasonBudgetExhausted, nil)
	case DecisionRestart:
		c.teardown(sess)
		// A callback of an invocation that is still opening restarts again
		// without leaving RESTARTING.
		if c.lifecycle.State() != StateRestarting {
			if err := c.lifecycle.Transition(StateRestarting); err != nil {
				sess.log.Error().Err(err).Msg("Unexpected lifecycle state on restart")
			}
		}
		c.metrics.RecordRestart()
		sess.log.Debug().
			Int("restart", d.Count).
			Dur("delay", d.Delay).
			Str("cause", cause).
			Msg("Restart scheduled")
	}
}

// fireRestart opens the next invocation without holding mu, so a stop is
// never held up by a slow engine. The placeholder in sess.inv tells it on
// return whether the restart is still wanted.
func (c *Controller) fireRestart(sess *session) {
	c.mu.Lock()
	sess.restarts.Fired()
	if c.current != sess || !sess.active || sess.manuallyStopped || c.lifecycle.State() != StateRestarting || sess.inv != nil {
		c.mu.Unlock()
		sess.log.Debug().Msg("Dropping stale restart")
		return
	}
	inv, cb := c.newInvocation(sess)
	sess.inv = inv
	ctx, locale := sess.ctx, sess.locale
	c.mu.Unlock()

	handle, err := c.engine.StartSession(ctx, inv.id, locale, cb)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != sess || !sess.active || sess.manuallyStopped || sess.inv != inv {
		if handle != nil {
			if stopErr := handle.Stop(); stopErr != nil {
				c.metrics.RecordTeardownError()
				inv.log.Warn().Err(stopErr).Msg("Engine teardown failed")
			}
		}
		inv.log.Debug().Msg("Dropping invocation opened for a superseded restart")
		return
	}
	if err != nil {
		sess.inv = nil
		inv.log.Error().Err(err).Msg("Engine refused restart invocation")
		failure := stt.Classification{
			Category: stt.Fatal,
			Code:     stt.CodeStartFailed,
			Message:  ErrStartFailed.Message,
		}
		c.endSession(sess, metrics.EndReasonRestartFailed, &failure)
		return
	}
	c.install(sess, inv, handle)
	if err := c.lifecycle.Transition(StateListening); err != nil {
		sess.log.Error().Err(err).Msg("Unexpected lifecycle state after restart")
	}
}

// invocationCallback binds engine callbacks to the session and invocation
// they were created for.
type invocationCallback struct {
	c            *Controller
	sess         *session
	invocationID string
}

// live reports whether the callback still targets the current invocation.
// Callers hold mu.
func (cb *invocationCallback) live() bool {
	sess := cb.sess
	return cb.c.current == sess && sess.inv != nil && sess.inv.id == cb.invocationID
}

func (cb *invocationCallback) OnPartial(text string, confidence float64) {
	c, sess := cb.c, cb.sess
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cb.live() || !sess.active || sess.manuallyStopped {
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	sess.transcript.OnFragment(text, false)
	sess.transcript.SetConfidence(confidence)
	c.metrics.RecordPartialTranscript()
	sess.partialLog.Debug().
		Str("invocationId", cb.invocationID).
		Int("chars", len(text)).
		Msg("Interim transcript")

	c.emitter.Emit(models.NewResultEvent(sess.id, sess.transcript.Effective(), false, sess.transcript.LastConfidence()))
}

func (cb *invocationCallback) OnFinal(text string, confidence float64) {
	c, sess := cb.c, cb.sess
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cb.live() || !sess.active || sess.manuallyStopped {
		return
	}

	sess.transcript.OnFragment(text, true)
	sess.restarts.ResetCount()
	c.metrics.RecordFinalTranscript()

	if strings.TrimSpace(text) != "" {
		sess.transcript.SetConfidence(confidence)
		c.emitter.Emit(models.NewResultEvent(sess.id, sess.transcript.Effective(), false, sess.transcript.LastConfidence()))
	}

	c.requestRestart(sess, "final")
}

func (cb *invocationCallback) OnError(code stt.ErrorCode) {
	c, sess := cb.c, cb.sess
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cb.live() || !sess.active || sess.manuallyStopped {
		return
	}

	cls := stt.Classify(code)
	c.metrics.RecordEngineError(c.engine.Name(), code.String(), cls.Category.String())

	if cls.Category == stt.Recoverable {
		sess.log.Debug().Str("engineError", code.String()).Msg("Recoverable engine error")
		c.requestRestart(sess, code.String())
		return
	}

	sess.log.Warn().
		Str("engineError", code.String()).
		Str("code", cls.Code).
		Msg("Fatal engine error")
	c.endSession(sess, metrics.EndReasonFatalError, &cls)
}

func (cb *invocationCallback) OnSilenceBoundary() {
	c := cb.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cb.live() {
		return
	}
	c.metrics.RecordSilenceBoundary()
	cb.sess.log.Debug().Str("invocationId", cb.invocationID).Msg("End of speech detected")
}
