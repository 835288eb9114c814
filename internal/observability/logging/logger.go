// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	// Set time format
	zerolog.TimeFieldFormat = cfg.TimeFormat

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Logger returns a new logger with common fields for the service.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithConnection returns a logger scoped to one host connection.
func WithConnection(connectionID, remoteAddr string) zerolog.Logger {
	return log.With().
		Str("connectionId", connectionID).
		Str("remoteAddr", remoteAddr).
		Logger()
}

// WithSession returns a logger with session context.
func WithSession(sessionID, locale string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Str("locale", locale).
		Logger()
}

// ForInvocation derives an invocation logger from a session logger. restart
// is the number of consecutive restarts that led to this invocation.
func ForInvocation(session zerolog.Logger, invocationID string, restart int) zerolog.Logger {
	return session.With().
		Str("invocationId", invocationID).
		Int("restart", restart).
		Logger()
}

// Sampled thins out high-frequency logs such as interim transcripts to one
// in every n messages.
func Sampled(l zerolog.Logger, n uint32) zerolog.Logger {
	if n <= 1 {
		return l
	}
	return l.Sample(&zerolog.BasicSampler{N: n})
}

// WithInvocation returns a logger with engine invocation context.
func WithInvocation(sessionID, invocationID, provider string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Str("invocationId", invocationID).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
