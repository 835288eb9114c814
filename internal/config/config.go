// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Session       SessionConfig
	Audio         AudioConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

type STTConfig struct {
	Provider           string // mock, google
	LanguageCode       string // default locale for clients
	SampleRateHz       int32
	InterimResults     bool
	AudioEncoding      string
	Model              string
	Locales            []string // empty = every locale
	SpeechStartTimeout time.Duration
	SpeechEndTimeout   time.Duration
}

type SessionConfig struct {
	MaxRestarts       int
	RestartDelay      time.Duration
	RequirePermission bool
	DeliverTimeout    time.Duration
}

type AudioConfig struct {
	MaxFrameBytes      int
	MaxSessionBytes    int64
	MaxSessionDuration time.Duration
}

type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
	Async     bool
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from the environment. Variables from an optional
// .env file (ENV_FILE, default ".env") never override the real environment.
func Load() *Config {
	loadDotEnv(envOrDefault("ENV_FILE", ".env"))

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-session")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		STT: STTConfig{
			Provider:           envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:       envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:       int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000)),
			InterimResults:     envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:      envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:              envOrDefault("STT_MODEL", ""),
			Locales:            envOrDefaultList("STT_LOCALES", nil),
			SpeechStartTimeout: envOrDefaultDuration("STT_SPEECH_START_TIMEOUT", 5*time.Second),
			SpeechEndTimeout:   envOrDefaultDuration("STT_SPEECH_END_TIMEOUT", time.Second),
		},
		Session: SessionConfig{
			MaxRestarts:       envOrDefaultInt("SESSION_MAX_RESTARTS", 50),
			RestartDelay:      envOrDefaultDuration("SESSION_RESTART_DELAY", 50*time.Millisecond),
			RequirePermission: envOrDefaultBool("SESSION_REQUIRE_PERMISSION", false),
			DeliverTimeout:    envOrDefaultDuration("SESSION_DELIVER_TIMEOUT", 5*time.Second),
		},
		Audio: AudioConfig{
			MaxFrameBytes:      envOrDefaultInt("AUDIO_MAX_FRAME_BYTES", 64*1024),
			MaxSessionBytes:    envOrDefaultInt64("AUDIO_MAX_SESSION_BYTES", 200*1024*1024),
			MaxSessionDuration: envOrDefaultDuration("AUDIO_MAX_SESSION_DURATION", 2*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:   envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:   envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:     envOrDefault("KAFKA_TOPIC", "speech.session.events"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", principal),
			Async:     envOrDefaultBool("KAFKA_ASYNC", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated variable, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
