package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/audio"
	"github.com/lexiqai/interviewer/internal/capture"
	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/httpapi"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/realtime"
	"github.com/lexiqai/interviewer/internal/resilience"
	"github.com/lexiqai/interviewer/internal/transcript"
	"github.com/lexiqai/interviewer/internal/visualizer"
)

// StatusTranscribing is shown while a recorded answer is being transcribed
const StatusTranscribing = "Transcribing..."

// minSegmentDuration drops clicks and breaths the VAD lets through
const minSegmentDuration = 250 * time.Millisecond

// ErrMicUnavailable is returned when the microphone is enabled before capture started
var ErrMicUnavailable = errors.New("microphone capture is not running")

// TokenSource provides realtime session tokens
type TokenSource interface {
	Fetch(ctx context.Context) (*realtime.Token, error)
}

// Analyzer transcribes a recorded answer
type Analyzer interface {
	Transcribe(ctx context.Context, userAudio string) (string, transcript.Speaker, error)
}

// Capturer starts microphone capture
type Capturer interface {
	Start(ctx context.Context, cfg capture.Config) (*capture.Session, error)
}

// ConnectFunc opens the realtime connection
type ConnectFunc func(ctx context.Context, cfg realtime.Config, token string, sink realtime.EventSink, metrics *observability.Metrics, logger zerolog.Logger) (*realtime.Connection, error)

// Controller owns one interview session: the realtime connection, the
// microphone capture and the reconciler every event flows into
type Controller struct {
	cfg        *config.Config
	reconciler *transcript.Reconciler
	tokens     TokenSource
	analyzer   Analyzer
	capturer   Capturer
	connect    ConnectFunc

	micEnabled atomic.Bool

	segMu     sync.Mutex
	segmenter *audio.Segmenter

	commands chan httpapi.Command

	mu      sync.Mutex
	conn    *realtime.Connection
	capture *capture.Session
	cancel  context.CancelFunc
	started bool
	closed  bool

	wg sync.WaitGroup

	sessionID     string
	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithTokenSource overrides how tokens are fetched when none is configured
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Controller) { c.tokens = tokens }
}

// WithAnalyzer overrides the fallback transcription client
func WithAnalyzer(analyzer Analyzer) Option {
	return func(c *Controller) { c.analyzer = analyzer }
}

// WithCapturer overrides microphone capture
func WithCapturer(capturer Capturer) Option {
	return func(c *Controller) { c.capturer = capturer }
}

// WithConnectFunc overrides the realtime connector
func WithConnectFunc(connect ConnectFunc) Option {
	return func(c *Controller) { c.connect = connect }
}

// WithReconcilerOptions passes options through to the reconciler
func WithReconcilerOptions(opts ...transcript.Option) Option {
	return func(c *Controller) {
		c.reconciler = newReconciler(c, opts...)
	}
}

// New creates a session controller
func New(cfg *config.Config, opts ...Option) *Controller {
	correlationID := observability.NewCorrelationID()
	sessionID := uuid.New().String()

	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("session_id", sessionID).
		Logger()

	timeout := time.Duration(cfg.TranscriptionTimeout) * time.Second

	c := &Controller{
		cfg:      cfg,
		tokens:   httpapi.NewSessionClient(cfg.SessionTokenURL, time.Duration(cfg.NegotiationTimeout)*time.Second),
		analyzer: httpapi.NewAnalysisClient(cfg.TranscriptionURL, timeout, logger),
		capturer: capture.NewFFMPEGCapture(cfg.AudioRecorderCommand),
		connect:  realtime.Connect,
		segmenter: audio.NewSegmenter(audio.SegmenterConfig{
			SampleRate:      cfg.AudioSampleRate,
			MaxSegmentBytes: cfg.AudioSegmentMaxBytes,
			VAD: &audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceFrames:   cfg.VADSilenceFrames,
			},
		}),
		commands:      make(chan httpapi.Command, 8),
		sessionID:     sessionID,
		correlationID: correlationID,
		metrics:       observability.NewSessionMetrics(sessionID),
		logger:        logger,
	}
	c.reconciler = newReconciler(c)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newReconciler(c *Controller, opts ...transcript.Option) *transcript.Reconciler {
	base := []transcript.Option{
		transcript.WithMicControl(c),
		transcript.WithDedupWindow(c.cfg.HumanDedupWindow()),
		transcript.WithResetDelays(c.cfg.ResetDelays()),
		transcript.WithLogger(c.logger.With().Str("component", "transcript").Logger()),
	}
	return transcript.NewReconciler(visualizer.NewFeed(), append(base, opts...)...)
}

// Reconciler returns the session's transcript state
func (c *Controller) Reconciler() *transcript.Reconciler {
	return c.reconciler
}

// Commands accepts view commands such as toggle_mic
func (c *Controller) Commands() chan<- httpapi.Command {
	return c.commands
}

// SessionID identifies the session in logs and metrics
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Start connects the session. Connection attempts are bounded by
// RECONNECT_MAX_ATTEMPTS; the default of 1 makes a single attempt.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return errors.New("session already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.metrics.RecordSessionStart()
	c.reconciler.OnSessionStatusChange(realtime.StatusConnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeCommands(runCtx)
	}()

	token, err := c.token(ctx)
	if err != nil {
		c.fail("token", err)
		return err
	}

	session, err := c.capturer.Start(runCtx, capture.Config{
		InputFormat: c.cfg.AudioInputFormat,
		InputDevice: c.cfg.AudioInputDevice,
		SampleRate:  c.cfg.AudioSampleRate,
		PCM:         c.cfg.FallbackTranscribing,
	})
	if err != nil {
		err = fmt.Errorf("failed to start microphone capture: %w", err)
		c.fail("capture", err)
		return err
	}
	c.mu.Lock()
	c.capture = session
	c.mu.Unlock()

	rtCfg := c.realtimeConfig(token)
	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: c.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	var conn *realtime.Connection
	err = resilience.Reconnect(ctx, func(ctx context.Context) error {
		var connectErr error
		conn, connectErr = c.connect(ctx, rtCfg, token.Value, c.reconciler, c.metrics, c.logger)
		return connectErr
	}, reconnectConfig)
	if err != nil {
		c.fail("connect", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := conn.WriteMicrophone(runCtx, session.Opus(), c.micEnabled.Load); err != nil {
			c.logger.Error().Err(err).Msg("Microphone stream stopped")
			observability.RecordError("mic_stream", "session")
		}
	}()

	if pcm := session.PCM(); pcm != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.readPCM(runCtx, pcm)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-conn.Done():
			c.logger.Warn().Msg("Realtime connection closed")
			c.micEnabled.Store(false)
			c.reconciler.SetReady(false)
		case <-runCtx.Done():
		}
	}()

	c.reconciler.SetReady(true)
	c.reconciler.OnSessionStatusChange(realtime.StatusConnected)

	c.logger.Info().
		Str("model", rtCfg.Model).
		Bool("fallback_transcription", c.cfg.FallbackTranscribing).
		Msg("Interview session started")
	return nil
}

// realtimeConfig negotiates with the model and voice the token was minted for
func (c *Controller) realtimeConfig(token *realtime.Token) realtime.Config {
	rtCfg := realtime.Config{
		BaseURL:            c.cfg.RealtimeBaseURL,
		Model:              c.cfg.RealtimeModel,
		Voice:              c.cfg.RealtimeVoice,
		DataChannelLabel:   c.cfg.RealtimeDataChannel,
		NegotiationTimeout: time.Duration(c.cfg.NegotiationTimeout) * time.Second,
		RecordPath:         c.cfg.AIAudioRecordPath,
	}
	if token.Model != "" {
		rtCfg.Model = token.Model
	}
	if token.Voice != "" {
		rtCfg.Voice = token.Voice
	}
	return rtCfg
}

func (c *Controller) token(ctx context.Context) (*realtime.Token, error) {
	if c.cfg.RealtimeToken != "" {
		return &realtime.Token{Value: c.cfg.RealtimeToken, Model: c.cfg.RealtimeModel, Voice: c.cfg.RealtimeVoice}, nil
	}
	token, err := c.tokens.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain realtime token: %w", err)
	}
	return token, nil
}

func (c *Controller) fail(stage string, err error) {
	c.logger.Error().Err(err).Str("stage", stage).Msg("Failed to start interview session")
	c.metrics.RecordError(stage, "session")
	c.reconciler.OnSessionStatusChange(realtime.StatusDisconnected)
}

// SetMicEnabled gates the microphone. Capture keeps running either way so
// pages are drained from ffmpeg. Disabling submits any partial answer.
func (c *Controller) SetMicEnabled(enabled bool) error {
	c.mu.Lock()
	running := c.capture != nil && !c.closed
	c.mu.Unlock()

	if enabled && !running {
		return ErrMicUnavailable
	}

	c.micEnabled.Store(enabled)
	c.logger.Info().Bool("enabled", enabled).Msg("Microphone toggled")

	if enabled {
		return nil
	}

	c.segMu.Lock()
	segment, ok := c.segmenter.Flush()
	c.segMu.Unlock()
	if ok {
		c.submitAsync(segment)
	}
	return nil
}

func (c *Controller) consumeCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-c.commands:
			switch cmd.Type {
			case httpapi.CommandToggleMic:
				c.reconciler.ToggleMic()
			default:
				c.logger.Debug().Str("type", cmd.Type).Msg("Ignoring unknown command")
			}
		case <-ctx.Done():
			return
		}
	}
}

// readPCM feeds the VAD while the mic is on and discards otherwise
func (c *Controller) readPCM(ctx context.Context, r io.Reader) {
	buf := make([]byte, 3200)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.processPCM(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("PCM stream ended")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Controller) processPCM(pcm []byte) {
	if !c.micEnabled.Load() {
		return
	}

	c.segMu.Lock()
	segments := c.segmenter.Feed(pcm)
	c.segMu.Unlock()

	for _, segment := range segments {
		c.submitAsync(segment)
	}
}

func (c *Controller) submitAsync(segment audio.Segment) {
	if segment.Duration() < minSegmentDuration {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		// Mic toggles do not cancel a request in flight
		c.submit(context.Background(), segment)
	}()
}

// submit runs the fallback path for one recorded answer
func (c *Controller) submit(ctx context.Context, segment audio.Segment) {
	userAudio := c.reconciler.OnAudioSegment(segment.WAV())
	if userAudio == "" {
		return
	}

	c.reconciler.OnProcessingChange(true)
	c.reconciler.OnSessionStatusChange(StatusTranscribing)
	defer c.reconciler.OnProcessingChange(false)

	c.logger.Debug().
		Dur("duration", segment.Duration()).
		Msg("Submitting recorded answer for transcription")

	text, speaker, err := c.analyzer.Transcribe(ctx, userAudio)
	if err != nil {
		// Already logged by the analysis client
		c.metrics.RecordError("transcription", "session")
		c.reconciler.OnSessionStatusChange(realtime.StatusListening)
		return
	}

	c.reconciler.OnTranscriptReceived(text, speaker)
	c.reconciler.OnSessionStatusChange(realtime.StatusListening)
}

// Close stops capture and the realtime connection and waits for workers
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	session := c.capture
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	c.micEnabled.Store(false)
	if cancel != nil {
		cancel()
	}

	var errs []error
	if session != nil {
		if err := session.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("realtime: %w", err))
		}
	}

	c.wg.Wait()
	c.reconciler.SetReady(false)

	if started {
		c.metrics.RecordSessionEnd()
	}
	c.logger.Info().Msg("Interview session closed")
	return errors.Join(errs...)
}
