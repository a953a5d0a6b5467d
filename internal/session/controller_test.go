package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/audio"
	"github.com/lexiqai/interviewer/internal/capture"
	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/httpapi"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/realtime"
	"github.com/lexiqai/interviewer/internal/transcript"
)

func testConfig() *config.Config {
	return &config.Config{
		SessionTokenURL:           "http://127.0.0.1:1/api/session",
		TranscriptionURL:          "http://127.0.0.1:1/api/audio-analysis",
		TranscriptionTimeout:      5,
		NegotiationTimeout:        5,
		FallbackTranscribing:      true,
		AudioSampleRate:           16000,
		VADEnergyThreshold:        500,
		VADSilenceFrames:          3,
		HumanDedupWindowMs:        2000,
		ReconnectMaxAttempts:      1,
		CircuitBreakerMaxFailures: 5,
	}
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []string
	text  string
	err   error
}

func (f *fakeAnalyzer) Transcribe(ctx context.Context, userAudio string) (string, transcript.Speaker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userAudio)
	if f.err != nil {
		return "", "", f.err
	}
	return f.text, transcript.SpeakerHuman, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTokens struct {
	calls int
	token *realtime.Token
	err   error
}

func (f *fakeTokens) Fetch(ctx context.Context) (*realtime.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.token != nil {
		return f.token, nil
	}
	return &realtime.Token{Value: "ek_test"}, nil
}

type fakeCapturer struct {
	calls int
	cfg   capture.Config
	err   error
}

func (f *fakeCapturer) Start(ctx context.Context, cfg capture.Config) (*capture.Session, error) {
	f.calls++
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return &capture.Session{}, nil
}

// speech returns n 20ms frames of a loud square wave
func speech(frames int) []byte {
	samples := make([]int16, frames*320)
	for i := range samples {
		if (i/8)%2 == 0 {
			samples[i] = 4000
		} else {
			samples[i] = -4000
		}
	}
	return audio.SamplesToPCMBytes(samples)
}

func silence(frames int) []byte {
	return make([]byte, frames*640)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// markRunning makes the controller behave as if capture had started
func markRunning(c *Controller) {
	c.mu.Lock()
	c.capture = &capture.Session{}
	c.mu.Unlock()
}

func TestController_SubmitAddsHumanTranscript(t *testing.T) {
	analyzer := &fakeAnalyzer{text: "I designed the billing pipeline"}
	c := New(testConfig(), WithAnalyzer(analyzer))

	c.submit(context.Background(), audio.Segment{PCM: speech(20), SampleRate: 16000})

	if analyzer.callCount() != 1 || !strings.HasPrefix(analyzer.calls[0], audio.WAVDataURLPrefix) {
		t.Fatalf("Expected one data URL submission, got %d", analyzer.callCount())
	}

	entries := c.Reconciler().Transcript()
	if len(entries) != 1 || entries[0].Speaker != transcript.SpeakerHuman || entries[0].Text != "I designed the billing pipeline" {
		t.Errorf("Unexpected transcript %+v", entries)
	}
	if c.Reconciler().Flags().Processing {
		t.Error("Expected processing to be cleared after the request")
	}
	if c.Reconciler().Feed().Level() == 0 {
		t.Error("Expected the segment to drive the visualization level")
	}
}

func TestController_SubmitFailureClearsProcessing(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("no transcription returned")}
	c := New(testConfig(), WithAnalyzer(analyzer))

	c.submit(context.Background(), audio.Segment{PCM: speech(20), SampleRate: 16000})

	if len(c.Reconciler().Transcript()) != 0 {
		t.Error("Expected no transcript entry after a failed request")
	}
	if c.Reconciler().Flags().Processing {
		t.Error("Expected processing to be cleared after a failure")
	}
}

func TestController_ProcessingStatusWhileTranscribing(t *testing.T) {
	release := make(chan struct{})
	seen := make(chan string, 1)
	c := New(testConfig())
	c.analyzer = analyzerFunc(func(ctx context.Context, userAudio string) (string, transcript.Speaker, error) {
		seen <- c.Reconciler().StatusLabel()
		<-release
		return "done", transcript.SpeakerHuman, nil
	})
	c.Reconciler().SetReady(true)

	go c.submit(context.Background(), audio.Segment{PCM: speech(20), SampleRate: 16000})

	if status := <-seen; status != StatusTranscribing {
		t.Errorf("Expected %q while processing, got %q", StatusTranscribing, status)
	}
	if c.Reconciler().ToggleMic() {
		t.Error("Expected mic toggle to be ignored while processing")
	}
	close(release)
	waitFor(t, "processing to clear", func() bool { return !c.Reconciler().Flags().Processing })
}

type analyzerFunc func(ctx context.Context, userAudio string) (string, transcript.Speaker, error)

func (f analyzerFunc) Transcribe(ctx context.Context, userAudio string) (string, transcript.Speaker, error) {
	return f(ctx, userAudio)
}

func TestController_PCMIgnoredWhileMicOff(t *testing.T) {
	analyzer := &fakeAnalyzer{text: "x"}
	c := New(testConfig(), WithAnalyzer(analyzer))

	c.processPCM(append(speech(20), silence(5)...))
	c.wg.Wait()

	if analyzer.callCount() != 0 {
		t.Errorf("Expected no submissions while the mic is off, got %d", analyzer.callCount())
	}
}

func TestController_VADSegmentSubmitted(t *testing.T) {
	analyzer := &fakeAnalyzer{text: "My answer"}
	c := New(testConfig(), WithAnalyzer(analyzer))
	markRunning(c)

	if err := c.SetMicEnabled(true); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	c.processPCM(append(speech(20), silence(5)...))
	c.wg.Wait()

	if analyzer.callCount() != 1 {
		t.Fatalf("Expected one submission, got %d", analyzer.callCount())
	}
	if entries := c.Reconciler().Transcript(); len(entries) != 1 {
		t.Errorf("Expected one transcript entry, got %+v", entries)
	}
}

func TestController_ShortSegmentDropped(t *testing.T) {
	analyzer := &fakeAnalyzer{text: "uh"}
	c := New(testConfig(), WithAnalyzer(analyzer))
	markRunning(c)

	_ = c.SetMicEnabled(true)
	c.processPCM(append(speech(2), silence(5)...))
	c.wg.Wait()

	if analyzer.callCount() != 0 {
		t.Errorf("Expected short segment to be dropped, got %d submissions", analyzer.callCount())
	}
}

func TestController_MicOffSubmitsPartialAnswer(t *testing.T) {
	analyzer := &fakeAnalyzer{text: "Cut short"}
	c := New(testConfig(), WithAnalyzer(analyzer))
	markRunning(c)

	_ = c.SetMicEnabled(true)
	c.processPCM(speech(20))
	if analyzer.callCount() != 0 {
		t.Fatal("Expected nothing submitted while still speaking")
	}

	if err := c.SetMicEnabled(false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	c.wg.Wait()

	if analyzer.callCount() != 1 {
		t.Errorf("Expected the partial answer to be submitted, got %d", analyzer.callCount())
	}
}

func TestController_MicUnavailableRevertsToggle(t *testing.T) {
	c := New(testConfig(), WithAnalyzer(&fakeAnalyzer{}))
	c.Reconciler().SetReady(true)

	if err := c.SetMicEnabled(true); !errors.Is(err, ErrMicUnavailable) {
		t.Errorf("Expected ErrMicUnavailable, got %v", err)
	}
	if c.Reconciler().ToggleMic() {
		t.Error("Expected toggle to fail without capture")
	}
	if c.Reconciler().Flags().Listening {
		t.Error("Expected listening to be reverted")
	}
}

func TestController_ToggleCommand(t *testing.T) {
	c := New(testConfig(), WithAnalyzer(&fakeAnalyzer{}))
	markRunning(c)
	c.Reconciler().SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.consumeCommands(ctx)

	c.Commands() <- httpapi.Command{Type: "bogus"}
	c.Commands() <- httpapi.Command{Type: httpapi.CommandToggleMic}

	waitFor(t, "listening", func() bool { return c.Reconciler().Flags().Listening })
	if !c.micEnabled.Load() {
		t.Error("Expected the microphone gate to open")
	}
}

func TestController_StartTokenFailure(t *testing.T) {
	tokens := &fakeTokens{err: errors.New("session endpoint returned 502")}
	capturer := &fakeCapturer{}
	c := New(testConfig(), WithTokenSource(tokens), WithCapturer(capturer))
	defer c.Close()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Expected token failure")
	}
	if capturer.calls != 0 {
		t.Error("Expected capture not to start without a token")
	}
	if got := c.Reconciler().Flags().SessionStatus; got != realtime.StatusDisconnected {
		t.Errorf("Expected %q, got %q", realtime.StatusDisconnected, got)
	}
	if c.Reconciler().Snapshot().Ready {
		t.Error("Expected session to stay not ready")
	}
}

func TestController_StartUsesConfiguredToken(t *testing.T) {
	cfg := testConfig()
	cfg.RealtimeToken = "ek_preminted"
	cfg.AudioInputDevice = "hw:2"

	tokens := &fakeTokens{}
	capturer := &fakeCapturer{err: errors.New("no such device")}
	c := New(cfg, WithTokenSource(tokens), WithCapturer(capturer))
	defer c.Close()

	err := c.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("Expected capture failure, got %v", err)
	}
	if tokens.calls != 0 {
		t.Error("Expected the configured token to be used")
	}
	if capturer.cfg.InputDevice != "hw:2" || !capturer.cfg.PCM {
		t.Errorf("Unexpected capture config %+v", capturer.cfg)
	}
}

func TestController_ConnectFailureBoundedAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.RealtimeToken = "ek"
	cfg.ReconnectMaxAttempts = 2
	cfg.ReconnectBackoff = 1

	attempts := 0
	c := New(cfg,
		WithCapturer(&fakeCapturer{}),
		WithConnectFunc(func(ctx context.Context, rc realtime.Config, token string, sink realtime.EventSink, _ *observability.Metrics, _ zerolog.Logger) (*realtime.Connection, error) {
			attempts++
			if token != "ek" {
				t.Errorf("Unexpected token %q", token)
			}
			return nil, &realtime.NegotiationError{StatusCode: 401, Body: "bad token"}
		}),
	)
	defer c.Close()

	err := c.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401 - bad token") {
		t.Fatalf("Expected negotiation error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestController_NegotiatesWithMintedModel(t *testing.T) {
	cfg := testConfig()
	cfg.RealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	cfg.RealtimeVoice = "alloy"

	tokens := &fakeTokens{token: &realtime.Token{Value: "ek_minted", Model: "gpt-4o-mini-realtime-preview", Voice: "verse"}}
	var got realtime.Config
	c := New(cfg,
		WithTokenSource(tokens),
		WithCapturer(&fakeCapturer{}),
		WithConnectFunc(func(ctx context.Context, rc realtime.Config, token string, sink realtime.EventSink, _ *observability.Metrics, _ zerolog.Logger) (*realtime.Connection, error) {
			got = rc
			return nil, errors.New("stop here")
		}),
	)
	defer c.Close()

	_ = c.Start(context.Background())
	if got.Model != "gpt-4o-mini-realtime-preview" || got.Voice != "verse" {
		t.Errorf("Expected the minted model and voice, got %q/%q", got.Model, got.Voice)
	}
}

func TestController_RealtimeConfigFallsBackToConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	cfg.RealtimeVoice = "alloy"
	c := New(cfg)

	rc := c.realtimeConfig(&realtime.Token{Value: "ek"})
	if rc.Model != cfg.RealtimeModel || rc.Voice != cfg.RealtimeVoice {
		t.Errorf("Expected configured model and voice, got %q/%q", rc.Model, rc.Voice)
	}
}

func TestController_StartTwice(t *testing.T) {
	c := New(testConfig(), WithTokenSource(&fakeTokens{err: errors.New("down")}))
	defer c.Close()

	_ = c.Start(context.Background())
	if err := c.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
}

func TestController_CloseIdempotent(t *testing.T) {
	c := New(testConfig())

	if err := c.Close(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Expected no error on second close, got %v", err)
	}
	if err := c.SetMicEnabled(true); !errors.Is(err, ErrMicUnavailable) {
		t.Errorf("Expected ErrMicUnavailable after close, got %v", err)
	}
}
