// Package events delivers session events to the host and to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/metrics"
)

// DefaultTopic is the Kafka topic session events are published to.
const DefaultTopic = "speech.session.events"

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes session events to a Kafka topic keyed by session ID,
// so every event of one session lands on the same partition in order.
type Publisher struct {
	writer    messageWriter
	principal string
	topic     string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
	// Async makes writes fire-and-forget; failures are only logged.
	Async bool
}

// New creates a new Kafka event publisher. With a nil or disabled config the
// publisher only logs events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			topic:   DefaultTopic,
			enabled: false,
			metrics: m,
		}
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal: cfg.Principal,
			topic:     topic,
			enabled:   false,
			metrics:   m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
		Async:        cfg.Async,
	}
	if cfg.Async {
		writer.Completion = func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, msg := range messages {
				m.RecordKafkaPublish(topic, headerValue(msg, "eventType"), err, 0)
			}
			log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Async Kafka write failed")
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("principal", cfg.Principal).
		Bool("async", cfg.Async).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writer:    writer,
		principal: cfg.Principal,
		topic:     topic,
		enabled:   true,
		metrics:   m,
	}
}

// Deliver publishes one session event. It lets the publisher act as an
// emitter tap.
func (p *Publisher) Deliver(ctx context.Context, event models.Event) error {
	return p.Publish(ctx, event.SessionID, event.Type, event)
}

// Publish writes event under key with an eventType header.
func (p *Publisher) Publish(ctx context.Context, key, eventType string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", p.topic).
		Str("key", key).
		Str("eventType", eventType).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(p.topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(p.topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
