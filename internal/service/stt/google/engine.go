// Package google provides a Google Cloud Speech-to-Text engine.
//
// Each invocation is one streaming recognition call in single-utterance mode:
// the server ends the stream after the first settled utterance, which is why
// the session controller keeps restarting invocations to listen continuously.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	Model          string
	// Locales lists the locales reported as available. Empty means all.
	Locales []string
	// SpeechStartTimeout ends an invocation that hears no speech.
	SpeechStartTimeout time.Duration
	// SpeechEndTimeout is the trailing silence that closes an utterance.
	SpeechEndTimeout time.Duration
}

// DefaultConfig returns sensible defaults for dictation audio.
func DefaultConfig() Config {
	return Config{
		SampleRateHz:       16000,
		InterimResults:     true,
		AudioEncoding:      "LINEAR16",
		SpeechStartTimeout: 5 * time.Second,
		SpeechEndTimeout:   time.Second,
	}
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// openFunc opens one bidirectional recognition stream.
type openFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Engine implements stt.Engine using Google Cloud Speech-to-Text.
type Engine struct {
	client *speech.Client
	open   openFunc
	cfg    Config
}

// New creates a new Google STT engine.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Engine{
		client: c,
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return c.StreamingRecognize(ctx)
		},
		cfg: cfg,
	}, nil
}

// Name returns the provider label.
func (e *Engine) Name() string {
	return "google"
}

// IsAvailable reports whether locale is in the configured list.
func (e *Engine) IsAvailable(ctx context.Context, locale string) bool {
	if len(e.cfg.Locales) == 0 {
		return true
	}
	for _, l := range e.cfg.Locales {
		if strings.EqualFold(l, locale) {
			return true
		}
	}
	return false
}

// Close releases the underlying client connection.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// StartSession opens a stream, sends the streaming config and starts
// listening for responses on a separate goroutine.
func (e *Engine) StartSession(ctx context.Context, id, locale string, cb stt.Callback) (stt.Invocation, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := e.open(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}

	// Send streaming config as the first message
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: e.streamingConfig(locale),
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}

	inv := &Invocation{
		id:     id,
		cb:     cb,
		stream: stream,
		cancel: cancel,
		log:    logging.WithInvocation(sessionOf(id), id, e.Name()),
	}
	go inv.listen()

	return inv, nil
}

func (e *Engine) streamingConfig(locale string) *speechpb.StreamingRecognitionConfig {
	cfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(e.cfg.AudioEncoding),
			SampleRateHertz:            e.cfg.SampleRateHz,
			LanguageCode:               locale,
			Model:                      e.cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		SingleUtterance:           true,
		InterimResults:            e.cfg.InterimResults,
		EnableVoiceActivityEvents: true,
	}
	if e.cfg.SpeechStartTimeout > 0 || e.cfg.SpeechEndTimeout > 0 {
		vat := &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{}
		if e.cfg.SpeechStartTimeout > 0 {
			vat.SpeechStartTimeout = durationpb.New(e.cfg.SpeechStartTimeout)
		}
		if e.cfg.SpeechEndTimeout > 0 {
			vat.SpeechEndTimeout = durationpb.New(e.cfg.SpeechEndTimeout)
		}
		cfg.VoiceActivityTimeout = vat
	}
	return cfg
}

// Invocation is one single-utterance streaming recognition call.
type Invocation struct {
	id     string
	cb     stt.Callback
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	log    zerolog.Logger

	sendMu     sync.Mutex
	mu         sync.Mutex
	stopped    bool
	halfClosed bool
}

// ID returns the invocation ID.
func (i *Invocation) ID() string {
	return i.id
}

// SendAudio sends audio bytes to Google Speech-to-Text. Audio arriving after
// the server signalled end of utterance is dropped.
func (i *Invocation) SendAudio(ctx context.Context, audio []byte) error {
	i.mu.Lock()
	stopped, halfClosed := i.stopped, i.halfClosed
	i.mu.Unlock()

	if stopped {
		return stt.ErrEngineClosed
	}
	if halfClosed {
		return nil
	}

	i.sendMu.Lock()
	defer i.sendMu.Unlock()
	return i.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Stop cancels the stream. It never blocks on the network and suppresses
// every later callback.
func (i *Invocation) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped {
		return nil
	}
	i.stopped = true
	i.cancel()
	return nil
}

func (i *Invocation) isStopped() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stopped
}

// closeSend half-closes the stream once the server detected end of speech.
func (i *Invocation) closeSend() {
	i.mu.Lock()
	if i.halfClosed || i.stopped {
		i.mu.Unlock()
		return
	}
	i.halfClosed = true
	i.mu.Unlock()

	i.sendMu.Lock()
	defer i.sendMu.Unlock()
	if err := i.stream.CloseSend(); err != nil {
		i.log.Debug().Err(err).Msg("CloseSend failed")
	}
}

// listen receives responses and invokes callbacks until the stream ends.
// Exactly one of OnFinal or OnError ends an invocation that was not stopped.
func (i *Invocation) listen() {
	for {
		resp, err := i.stream.Recv()
		if i.isStopped() {
			return
		}
		if errors.Is(err, io.EOF) {
			// Single-utterance stream ended without a settled result
			i.log.Debug().Msg("Stream ended without final result")
			i.cb.OnError(stt.ErrorNoMatch)
			return
		}
		if err != nil {
			code := mapError(err)
			i.log.Debug().Err(err).Str("engineError", code.String()).Msg("Recognition stream failed")
			i.cb.OnError(code)
			return
		}

		if st := resp.GetError(); st != nil && codes.Code(st.GetCode()) != codes.OK {
			code := mapCode(codes.Code(st.GetCode()))
			i.log.Debug().Str("message", st.GetMessage()).Str("engineError", code.String()).Msg("Recognition error response")
			i.cb.OnError(code)
			return
		}

		switch resp.GetSpeechEventType() {
		case speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE:
			i.cb.OnSilenceBoundary()
			i.closeSend()
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_TIMEOUT:
			i.cb.OnError(stt.ErrorSpeechTimeout)
			return
		}

		if text, confidence, final := interpret(resp.GetResults()); final {
			i.cb.OnFinal(text, confidence)
			return
		} else if text != "" {
			i.cb.OnPartial(text, confidence)
		}
	}
}

// interpret folds the results of one response into a single hypothesis.
// Interim responses split an utterance into a stable head followed by less
// stable tails; their texts are concatenated and the head's stability is
// reported. A final result wins over interim ones.
func interpret(results []*speechpb.StreamingRecognitionResult) (text string, confidence float64, final bool) {
	var b strings.Builder
	head := true
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if r.GetIsFinal() {
			return alt.GetTranscript(), float64(alt.GetConfidence()), true
		}
		b.WriteString(alt.GetTranscript())
		if head {
			confidence = float64(r.GetStability())
			head = false
		}
	}
	return b.String(), confidence, false
}

// sessionOf recovers the session ID from a "<session>-inv-<n>" invocation ID.
func sessionOf(invocationID string) string {
	session, _, _ := strings.Cut(invocationID, "-inv-")
	return session
}

// mapError translates a stream error into an engine error code.
func mapError(err error) stt.ErrorCode {
	st, ok := status.FromError(err)
	if !ok {
		return stt.ErrorNetwork
	}
	return mapCode(st.Code())
}

func mapCode(c codes.Code) stt.ErrorCode {
	switch c {
	case codes.Unavailable, codes.OutOfRange:
		return stt.ErrorServerDisconnected
	case codes.DeadlineExceeded:
		return stt.ErrorNetworkTimeout
	case codes.ResourceExhausted:
		return stt.ErrorTooManyRequests
	case codes.PermissionDenied, codes.Unauthenticated:
		return stt.ErrorInsufficientPermissions
	case codes.InvalidArgument:
		return stt.ErrorLanguageNotSupported
	case codes.Aborted:
		return stt.ErrorRecognizerBusy
	case codes.Canceled:
		return stt.ErrorClient
	case codes.Internal, codes.Unknown:
		return stt.ErrorServer
	default:
		return stt.ErrorServer
	}
}
