// eventtail consumes the session event topic and prints one running
// transcript per session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-session-service/internal/models"
)

// wireEvent mirrors models.Event with the payload left to decode by type.
type wireEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type sessionView struct {
	transcript string
	results    int
	started    time.Time
}

// tracker folds the event stream into per-session views.
type tracker struct {
	out io.Writer

	mu       sync.Mutex
	sessions map[string]*sessionView
}

func newTracker(out io.Writer) *tracker {
	return &tracker{out: out, sessions: make(map[string]*sessionView)}
}

func (t *tracker) handle(ev wireEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	view, ok := t.sessions[ev.SessionID]
	if !ok {
		view = &sessionView{started: time.UnixMilli(ev.Timestamp)}
		t.sessions[ev.SessionID] = view
	}

	switch ev.Type {
	case models.EventSpeechResult:
		var r models.SpeechResult
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		view.transcript = r.Transcript
		view.results++
		label := "partial"
		if r.IsFinal {
			label = "FINAL"
		}
		fmt.Fprintf(t.out, "%s [%s] %s\n", short(ev.SessionID), label, truncate(r.Transcript, 120))

	case models.EventSpeechError:
		var e models.SpeechError
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		fmt.Fprintf(t.out, "%s [error] %s: %s\n", short(ev.SessionID), e.Code, e.Message)

	case models.EventSpeechEnd:
		elapsed := time.UnixMilli(ev.Timestamp).Sub(view.started)
		fmt.Fprintf(t.out, "%s [end] %d results in %v: %q\n",
			short(ev.SessionID), view.results, elapsed.Round(time.Millisecond), view.transcript)
		delete(t.sessions, ev.SessionID)

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// open returns the number of sessions without an end event.
func (t *tracker) open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "speech.session.events", "Session event topic")
	group := flag.String("group", "", "Consumer group; empty reads partition 0 directly")
	since := flag.Duration("since", time.Hour, "Replay window when reading without a group")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := kafka.ReaderConfig{
		Brokers:  strings.Split(*brokers, ","),
		Topic:    *topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if *group != "" {
		cfg.GroupID = *group
	} else {
		cfg.Partition = 0
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *group == "" {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-*since)); err != nil {
			log.Warn().Err(err).Msg("Failed to seek, reading from the committed offset")
		}
	}

	log.Info().Str("topic", *topic).Str("brokers", *brokers).Msg("Tailing session events")

	t := newTracker(os.Stdout)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info().Int("openSessions", t.open()).Msg("Stopped")
				return
			}
			log.Warn().Err(err).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var ev wireEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
			continue
		}
		if err := t.handle(ev); err != nil {
			log.Warn().Err(err).Str("sessionId", ev.SessionID).Msg("Skipping event")
		}
	}
}
