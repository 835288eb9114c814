// wsclient streams a WAV file (or silence) through one speech session and
// prints the events the service sends back.
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type request struct {
	ID        int64          `json:"id"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type message struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		Transcript string  `json:"transcript"`
		IsFinal    bool    `json:"isFinal"`
		Confidence float64 `json:"confidence"`
		Code       string  `json:"code"`
		Message    string  `json:"message"`
	} `json:"data"`
}

type wavInfo struct {
	format        uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (16-bit PCM mono); empty streams silence")
	serverURL := flag.String("server", "ws://localhost:8080/v1/speech", "Speech WebSocket URL")
	language := flag.String("language", "en-US", "Recognition locale")
	chunkMs := flag.Int("chunk-ms", 100, "Audio chunk length in milliseconds")
	sampleRate := flag.Int("rate", 16000, "Sample rate used for silence")
	duration := flag.Duration("duration", 5*time.Second, "Silence duration when no file is given")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var (
		src  io.Reader
		rate = uint32(*sampleRate)
	)
	if *audioFile != "" {
		f, err := os.Open(*audioFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audio file")
		}
		defer f.Close()
		info, err := readWAVHeader(f)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid WAV file")
		}
		log.Info().
			Uint16("format", info.format).
			Uint16("channels", info.channels).
			Uint32("sampleRate", info.sampleRate).
			Uint16("bitsPerSample", info.bitsPerSample).
			Msg("WAV file")
		src, rate = f, info.sampleRate
	} else {
		src = io.LimitReader(zeroReader{}, int64(rate)*2*int64(duration.Seconds()))
	}
	// 16-bit mono
	chunkSize := int(rate) * 2 * *chunkMs / 1000

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverURL).Msg("Connected")

	ended := make(chan struct{})
	go readLoop(conn, ended)

	var nextID atomic.Int64
	call := func(method string, args map[string]any) {
		req := request{ID: nextID.Add(1), Method: method, Arguments: args}
		if err := conn.WriteJSON(req); err != nil {
			log.Fatal().Err(err).Str("method", method).Msg("Failed to send request")
		}
	}

	call("listen", nil)
	call("requestPermissions", nil)
	call("start", map[string]any{"language": *language})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()
	ticker := time.NewTicker(time.Duration(*chunkMs) * time.Millisecond)
	defer ticker.Stop()

stream:
	for {
		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				log.Fatal().Err(werr).Msg("Failed to send audio")
			}
			chunkNum++
			totalBytes += int64(n)
			if chunkNum%10 == 0 {
				log.Debug().Int("chunk", chunkNum).Int64("bytes", totalBytes).Msg("Sent audio")
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}

		// Simulate real-time streaming
		select {
		case <-ticker.C:
		case <-sig:
			log.Info().Msg("Interrupted")
			break stream
		case <-ended:
			log.Info().Msg("Session ended by the service")
			return
		}
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime)).
		Msg("Finished streaming, stopping session")
	call("stop", nil)

	select {
	case <-ended:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("No end event received")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func readLoop(conn *websocket.Conn, ended chan<- struct{}) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Read loop stopped")
			}
			return
		}

		switch msg.Type {
		case "onSpeechResult":
			label := "partial"
			if msg.Data.IsFinal {
				label = "FINAL"
			}
			fmt.Printf("[%s] %s (%.2f)\n", label, msg.Data.Transcript, msg.Data.Confidence)
		case "onSpeechError":
			fmt.Printf("[error] %s: %s\n", msg.Data.Code, msg.Data.Message)
		case "onSpeechEnd":
			fmt.Println("[end]")
			close(ended)
			return
		case "":
			if msg.Error != nil {
				log.Error().Int64("id", msg.ID).Str("code", msg.Error.Code).Msg(msg.Error.Message)
				continue
			}
			log.Debug().Int64("id", msg.ID).RawJSON("result", msg.Result).Msg("Reply")
		}
	}
}

func readWAVHeader(r io.Reader) (wavInfo, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wavInfo{}, fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("not a RIFF/WAVE file")
	}
	info := wavInfo{
		format:        binary.LittleEndian.Uint16(header[20:22]),
		channels:      binary.LittleEndian.Uint16(header[22:24]),
		sampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		bitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if info.format != 1 { // PCM
		return info, fmt.Errorf("unsupported format %d, only PCM", info.format)
	}
	if info.bitsPerSample != 16 || info.channels != 1 {
		return info, fmt.Errorf("need 16-bit mono, got %d-bit %d channels", info.bitsPerSample, info.channels)
	}
	return info, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
