package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-session-service/internal/service/stt"
)

type recvResult struct {
	resp *speechpb.StreamingRecognizeResponse
	err  error
}

// fakeStream scripts server responses for one recognition stream.
type fakeStream struct {
	grpc.ClientStream

	ctx       context.Context
	responses chan recvResult

	mu         sync.Mutex
	sent       []*speechpb.StreamingRecognizeRequest
	closedSend bool
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, responses: make(chan recvResult, 16)}
}

func (s *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	select {
	case r := <-s.responses:
		return r.resp, r.err
	case <-s.ctx.Done():
		return nil, status.Error(codes.Canceled, "context canceled")
	}
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedSend = true
	return nil
}

func (s *fakeStream) requests() []*speechpb.StreamingRecognizeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest{}, s.sent...)
}

// testCallback records callbacks and signals the terminal one.
type testCallback struct {
	mu         sync.Mutex
	partials   []string
	finals     []string
	errors     []stt.ErrorCode
	boundaries int
	done       chan struct{}
}

func newTestCallback() *testCallback {
	return &testCallback{done: make(chan struct{}, 1)}
}

func (c *testCallback) OnPartial(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, text)
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	c.finals = append(c.finals, text)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *testCallback) OnError(code stt.ErrorCode) {
	c.mu.Lock()
	c.errors = append(c.errors, code)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *testCallback) OnSilenceBoundary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundaries++
}

func (c *testCallback) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
}

func newTestEngine(cfg Config) *Engine {
	return &Engine{
		cfg: cfg,
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return newFakeStream(ctx), nil
		},
	}
}

func startInvocation(t *testing.T, e *Engine, cb stt.Callback) (stt.Invocation, *fakeStream) {
	t.Helper()
	var stream *fakeStream
	open := e.open
	e.open = func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		s, err := open(ctx)
		if err == nil {
			stream = s.(*fakeStream)
		}
		return s, err
	}
	inv, err := e.StartSession(context.Background(), "sess-inv-1", "en-US", cb)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return inv, stream
}

func result(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.9}},
			IsFinal:      final,
			Stability:    0.5,
		}},
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
	if cfg.SpeechStartTimeout != 5*time.Second {
		t.Errorf("expected 5s speech start timeout, got %v", cfg.SpeechStartTimeout)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStreamingConfig(t *testing.T) {
	e := &Engine{cfg: Config{
		SampleRateHz:       8000,
		InterimResults:     true,
		AudioEncoding:      "MULAW",
		SpeechStartTimeout: 3 * time.Second,
	}}

	cfg := e.streamingConfig("fr-FR")

	if !cfg.GetSingleUtterance() {
		t.Error("expected single-utterance mode")
	}
	if !cfg.GetEnableVoiceActivityEvents() {
		t.Error("expected voice activity events")
	}
	if cfg.GetConfig().GetLanguageCode() != "fr-FR" {
		t.Errorf("expected locale fr-FR, got %s", cfg.GetConfig().GetLanguageCode())
	}
	if cfg.GetConfig().GetEncoding() != speechpb.RecognitionConfig_MULAW {
		t.Errorf("expected MULAW, got %v", cfg.GetConfig().GetEncoding())
	}
	vat := cfg.GetVoiceActivityTimeout()
	if vat.GetSpeechStartTimeout().AsDuration() != 3*time.Second {
		t.Errorf("expected 3s start timeout, got %v", vat.GetSpeechStartTimeout().AsDuration())
	}
	if vat.GetSpeechEndTimeout() != nil {
		t.Error("expected no end timeout")
	}
}

func TestEngine_IsAvailable(t *testing.T) {
	e := &Engine{cfg: Config{Locales: []string{"en-US"}}}

	if !e.IsAvailable(context.Background(), "en-us") {
		t.Error("expected en-us to be available")
	}
	if e.IsAvailable(context.Background(), "de-DE") {
		t.Error("expected de-DE to be unavailable")
	}
	if !(&Engine{}).IsAvailable(context.Background(), "de-DE") {
		t.Error("expected every locale without a list")
	}
}

func TestInvocation_PartialThenFinal(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	inv, stream := startInvocation(t, e, cb)

	reqs := stream.requests()
	if len(reqs) != 1 || reqs[0].GetStreamingConfig() == nil {
		t.Fatalf("expected streaming config as first request, got %v", reqs)
	}
	if err := inv.SendAudio(context.Background(), []byte{1, 2}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if got := stream.requests()[1].GetAudioContent(); len(got) != 2 {
		t.Errorf("expected audio content, got %v", got)
	}

	stream.responses <- recvResult{resp: result("hel", false)}
	stream.responses <- recvResult{resp: &speechpb.StreamingRecognizeResponse{
		SpeechEventType: speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE,
	}}
	stream.responses <- recvResult{resp: result("hello", true)}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.partials) != 1 || cb.partials[0] != "hel" {
		t.Errorf("unexpected partials %v", cb.partials)
	}
	if len(cb.finals) != 1 || cb.finals[0] != "hello" {
		t.Errorf("unexpected finals %v", cb.finals)
	}
	if cb.boundaries != 1 {
		t.Errorf("expected 1 silence boundary, got %d", cb.boundaries)
	}

	stream.mu.Lock()
	closed := stream.closedSend
	stream.mu.Unlock()
	if !closed {
		t.Error("expected half-close after end of utterance")
	}
	// Audio after end of utterance is dropped silently.
	if err := inv.SendAudio(context.Background(), []byte{3}); err != nil {
		t.Errorf("expected audio after half-close to be dropped, got %v", err)
	}
}

func TestInvocation_MultiResultInterim(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	_, stream := startInvocation(t, e, cb)

	stream.responses <- recvResult{resp: &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "to be or not to be"}},
				Stability:    0.9,
			},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " that is the question"}},
				Stability:    0.01,
			},
		},
	}}
	stream.responses <- recvResult{resp: result("to be or not to be that is the question", true)}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.partials) != 1 || cb.partials[0] != "to be or not to be that is the question" {
		t.Errorf("expected one combined partial, got %q", cb.partials)
	}
	if len(cb.finals) != 1 {
		t.Errorf("expected one final, got %v", cb.finals)
	}
}

func TestInterpret(t *testing.T) {
	alt := func(text string) []*speechpb.SpeechRecognitionAlternative {
		return []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.8}}
	}
	tests := []struct {
		name       string
		results    []*speechpb.StreamingRecognitionResult
		text       string
		confidence float64
		final      bool
	}{
		{"empty", nil, "", 0, false},
		{"no alternatives", []*speechpb.StreamingRecognitionResult{{Stability: 0.5}}, "", 0, false},
		{
			"head stability",
			[]*speechpb.StreamingRecognitionResult{
				{Alternatives: alt("turn left"), Stability: 0.5},
				{Alternatives: alt(" at the"), Stability: 0.25},
			},
			"turn left at the", 0.5, false,
		},
		{
			"final wins",
			[]*speechpb.StreamingRecognitionResult{
				{Alternatives: alt("done"), IsFinal: true},
				{Alternatives: alt(" extra"), Stability: 0.25},
			},
			"done", float64(float32(0.8)), true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, confidence, final := interpret(tt.results)
			if text != tt.text || confidence != tt.confidence || final != tt.final {
				t.Errorf("interpret() = (%q, %v, %v), want (%q, %v, %v)",
					text, confidence, final, tt.text, tt.confidence, tt.final)
			}
		})
	}
}

func TestInvocation_EOFWithoutFinal(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	_, stream := startInvocation(t, e, cb)

	stream.responses <- recvResult{err: io.EOF}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errors) != 1 || cb.errors[0] != stt.ErrorNoMatch {
		t.Errorf("expected NO_MATCH, got %v", cb.errors)
	}
}

func TestInvocation_SpeechActivityTimeout(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	_, stream := startInvocation(t, e, cb)

	stream.responses <- recvResult{resp: &speechpb.StreamingRecognizeResponse{
		SpeechEventType: speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_TIMEOUT,
	}}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errors) != 1 || cb.errors[0] != stt.ErrorSpeechTimeout {
		t.Errorf("expected SPEECH_TIMEOUT, got %v", cb.errors)
	}
}

func TestInvocation_StreamError(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	_, stream := startInvocation(t, e, cb)

	stream.responses <- recvResult{err: status.Error(codes.PermissionDenied, "no credentials")}
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errors) != 1 || cb.errors[0] != stt.ErrorInsufficientPermissions {
		t.Errorf("expected INSUFFICIENT_PERMISSIONS, got %v", cb.errors)
	}
}

func TestInvocation_StopSuppressesCallbacks(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	cb := newTestCallback()
	inv, _ := startInvocation(t, e, cb)

	if err := inv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := inv.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	select {
	case <-cb.done:
		t.Error("expected no callback after stop")
	case <-time.After(50 * time.Millisecond):
	}
	if err := inv.SendAudio(context.Background(), []byte{1}); !errors.Is(err, stt.ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
}

func TestStartSession_OpenError(t *testing.T) {
	e := &Engine{
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return nil, status.Error(codes.Unavailable, "dns failure")
		},
	}

	_, err := e.StartSession(context.Background(), "s-inv-1", "en-US", newTestCallback())
	if err == nil {
		t.Fatal("expected error when the stream cannot be opened")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err      error
		expected stt.ErrorCode
	}{
		{status.Error(codes.Unavailable, ""), stt.ErrorServerDisconnected},
		{status.Error(codes.OutOfRange, ""), stt.ErrorServerDisconnected},
		{status.Error(codes.DeadlineExceeded, ""), stt.ErrorNetworkTimeout},
		{status.Error(codes.ResourceExhausted, ""), stt.ErrorTooManyRequests},
		{status.Error(codes.Unauthenticated, ""), stt.ErrorInsufficientPermissions},
		{status.Error(codes.InvalidArgument, ""), stt.ErrorLanguageNotSupported},
		{status.Error(codes.Aborted, ""), stt.ErrorRecognizerBusy},
		{status.Error(codes.Canceled, ""), stt.ErrorClient},
		{status.Error(codes.Internal, ""), stt.ErrorServer},
		{errors.New("connection reset by peer"), stt.ErrorNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			if got := mapError(tt.err); got != tt.expected {
				t.Errorf("mapError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSessionOf(t *testing.T) {
	if got := sessionOf("3f2a-9c-inv-7"); got != "3f2a-9c" {
		t.Errorf("expected 3f2a-9c, got %s", got)
	}
}
