// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_session"

// Session end reasons.
const (
	EndReasonUserStop        = "user_stop"
	EndReasonFatalError      = "fatal_error"
	EndReasonBudgetExhausted = "budget_exhausted"
	EndReasonRestartFailed   = "restart_failed"
	EndReasonSuperseded      = "superseded"
	EndReasonShutdown        = "shutdown"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted      prometheus.Counter
	SessionsActive       prometheus.Gauge
	SessionsEnded        *prometheus.CounterVec
	SessionDuration      prometheus.Histogram
	PreconditionFailures *prometheus.CounterVec

	// Engine metrics
	EngineInvocations       *prometheus.CounterVec
	EngineRestarts          prometheus.Counter
	EngineErrors            *prometheus.CounterVec
	EngineSilenceBoundaries prometheus.Counter
	EngineTeardownErrors    prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Event delivery metrics
	EventsEmitted *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesRejected *prometheus.CounterVec

	// Host connection metrics
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionDuration  prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of speech sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active speech sessions",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of speech sessions ended",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of speech sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		PreconditionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_rejected_total",
			Help:      "Total number of start commands rejected synchronously",
		}, []string{"code"}),

		// Engine metrics
		EngineInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_invocations_total",
			Help:      "Total number of engine invocations created",
		}, []string{"provider"}),
		EngineRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_restarts_total",
			Help:      "Total number of automatic engine restarts scheduled",
		}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Total number of engine errors by code and category",
		}, []string{"provider", "code", "category"}),
		EngineSilenceBoundaries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_silence_boundaries_total",
			Help:      "Total number of engine end-of-speech notifications",
		}),
		EngineTeardownErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_teardown_errors_total",
			Help:      "Total number of swallowed engine teardown errors",
		}),

		// Transcript metrics
		TranscriptsPartial: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		// Event delivery metrics
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of events delivered to the host sink",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped before reaching the host",
		}, []string{"type", "reason"}),

		// Kafka publish metrics
		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Audio metrics
		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from hosts",
		}),
		AudioFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received from hosts",
		}),
		AudioFramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_rejected_total",
			Help:      "Total audio frames not forwarded to an engine",
		}, []string{"reason"}),

		// Host connection metrics
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of host WebSocket connections",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open host WebSocket connections",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of host WebSocket connections in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "code"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStartRejected records a start command failing its preconditions.
func (m *Metrics) RecordStartRejected(code string) {
	m.PreconditionFailures.WithLabelValues(code).Inc()
}

// RecordInvocation records a new engine invocation.
func (m *Metrics) RecordInvocation(provider string) {
	m.EngineInvocations.WithLabelValues(provider).Inc()
}

// RecordRestart records a scheduled engine restart.
func (m *Metrics) RecordRestart() {
	m.EngineRestarts.Inc()
}

// RecordEngineError records a classified engine error.
func (m *Metrics) RecordEngineError(provider, code, category string) {
	m.EngineErrors.WithLabelValues(provider, code, category).Inc()
}

// RecordSilenceBoundary records an engine end-of-speech notification.
func (m *Metrics) RecordSilenceBoundary() {
	m.EngineSilenceBoundaries.Inc()
}

// RecordTeardownError records a swallowed engine teardown failure.
func (m *Metrics) RecordTeardownError() {
	m.EngineTeardownErrors.Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordEventEmitted records an event delivered to the host sink.
func (m *Metrics) RecordEventEmitted(eventType string) {
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event that never reached the host.
func (m *Metrics) RecordEventDropped(eventType, reason string) {
	m.EventsDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordAudioRejected records an audio frame that was not forwarded.
func (m *Metrics) RecordAudioRejected(reason string) {
	m.AudioFramesRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionStart records a host connection opening.
func (m *Metrics) RecordConnectionStart() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionEnd records a host connection closing.
func (m *Metrics) RecordConnectionEnd(durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, code string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(durationSeconds)
}
