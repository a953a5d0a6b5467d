package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/audio"
	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/resilience"
)

const (
	deepgramSampleRate = 16000
	deepgramChunkBytes = 3200 // 100ms of 16kHz linear16
	deepgramIdleGap    = 700 * time.Millisecond
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	handler                                func(*msginterfaces.MessageResponse)
	endHandler                             func()
	errorHandler                           func(*msginterfaces.ErrorResponse) error
}

// Message forwards results to the collector
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// UtteranceEnd marks the end of speech in the stream
func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	if m.endHandler != nil {
		m.endHandler()
	}
	return nil
}

// Close fires when Deepgram closes the stream after CloseStream
func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	if m.endHandler != nil {
		m.endHandler()
	}
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient transcribes one utterance per live-streaming session
type DeepgramClient struct {
	apiKey         string
	model          string
	language       string
	timeout        time.Duration
	idleGap        time.Duration
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	return &DeepgramClient{
		apiKey:         cfg.DeepgramAPIKey,
		model:          cfg.DeepgramModel,
		language:       cfg.DeepgramLanguage,
		timeout:        time.Duration(cfg.TranscriptionTimeout) * time.Second,
		idleGap:        deepgramIdleGap,
		circuitBreaker: newCircuitBreaker(config.ProviderDeepgram, cfg),
		logger:         observability.WithComponent("deepgram"),
	}
}

// Name returns the provider name
func (d *DeepgramClient) Name() string {
	return config.ProviderDeepgram
}

func (d *DeepgramClient) breaker() *resilience.CircuitBreaker {
	return d.circuitBreaker
}

// Transcribe streams the utterance to Deepgram and joins the final results
func (d *DeepgramClient) Transcribe(ctx context.Context, wav []byte) (*TranscriptionResult, error) {
	pcm, err := preparePCM(wav, deepgramSampleRate)
	if err != nil {
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	return transcribeProtected(d.circuitBreaker, func() (*TranscriptionResult, error) {
		result, err := d.stream(ctx, pcm)
		if err != nil {
			return nil, err
		}
		result.Duration = audio.PCMDuration(len(pcm), deepgramSampleRate, 1).Seconds()
		return result, nil
	})
}

func (d *DeepgramClient) stream(ctx context.Context, pcm []byte) (*TranscriptionResult, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000", // string in v3
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     deepgramSampleRate,
	}

	collector := newResultCollector(d.logger)
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                collector.handle,
		endHandler:             collector.finish,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			collector.fail(fmt.Errorf("deepgram error: %+v", errorResponse))
			return nil
		},
	}

	// nil ClientOptions uses defaults
	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	// Stop sends CloseStream; Finish is a no-op on the callback client
	defer client.Stop()

	for offset := 0; offset < len(pcm); offset += deepgramChunkBytes {
		end := offset + deepgramChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := client.Write(pcm[offset:end]); err != nil {
			return nil, fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
	}

	// The whole segment is sent; flush whatever Deepgram still buffers
	if err := client.Finalize(); err != nil {
		return nil, fmt.Errorf("failed to finalize Deepgram stream: %w", err)
	}

	return collector.wait(ctx, d.idleGap)
}

// preparePCM decodes a WAV payload into mono linear16 at the given rate
func preparePCM(wav []byte, sampleRate int) ([]byte, error) {
	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("invalid audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, audio.ErrEmptyAudio
	}

	samples := audio.PCMBytesToSamples(pcm)
	samples = audio.DownmixToMono(samples, info.Channels)
	samples = audio.Resample(samples, info.SampleRate, sampleRate)
	return audio.SamplesToPCMBytes(samples), nil
}

// resultCollector gathers final results delivered on the SDK's goroutine
type resultCollector struct {
	logger zerolog.Logger

	mu         sync.Mutex
	parts      []string
	confidence float64
	err        error

	activity chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newResultCollector(logger zerolog.Logger) *resultCollector {
	return &resultCollector{
		logger:   logger,
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *resultCollector) handle(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "UtteranceEnd":
		c.finish()

	case "Results", "Message":
		c.touch()
		if !msg.IsFinal {
			return
		}
		if len(msg.Channel.Alternatives) > 0 {
			c.addFinal(msg.Channel.Alternatives[0])
		}
		// speech_final only marks a pause; the flushed result ends the segment
		if msg.FromFinalize {
			c.finish()
		}

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Deepgram message")
	}
}

func (c *resultCollector) addFinal(alt msginterfaces.Alternative) {
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return
	}

	c.mu.Lock()
	c.parts = append(c.parts, text)
	c.confidence += alt.Confidence
	c.mu.Unlock()

	c.logger.Debug().
		Str("text", text).
		Float64("confidence", alt.Confidence).
		Msg("Deepgram final result")
}

func (c *resultCollector) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.finish()
}

func (c *resultCollector) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *resultCollector) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// wait blocks until the utterance ends, the stream closes, the stream goes
// quiet for idle after its first result, or ctx expires. Results gathered before a timeout are
// still returned.
func (c *resultCollector) wait(ctx context.Context, idle time.Duration) (*TranscriptionResult, error) {
	var timer *time.Timer
	var idleC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var ctxErr error
loop:
	for {
		select {
		case <-c.done:
			break loop
		case <-c.activity:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(idle)
			idleC = timer.C
		case <-idleC:
			break loop
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break loop
		}
	}

	return c.result(ctxErr)
}

func (c *resultCollector) result(ctxErr error) (*TranscriptionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if len(c.parts) == 0 && ctxErr != nil {
		return nil, fmt.Errorf("deepgram transcription timed out: %w", ctxErr)
	}

	result := &TranscriptionResult{
		Text:     strings.Join(c.parts, " "),
		Provider: config.ProviderDeepgram,
	}
	if len(c.parts) > 0 {
		result.Confidence = c.confidence / float64(len(c.parts))
	}
	return result, nil
}
