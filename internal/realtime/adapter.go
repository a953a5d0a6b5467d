package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/observability"
)

// Config holds the connection settings for the hosted realtime endpoint
type Config struct {
	BaseURL            string
	Model              string
	Voice              string
	DataChannelLabel   string
	NegotiationTimeout time.Duration
	RecordPath         string // Optional Ogg file for the assistant's audio

	// API builds the peer connection; nil uses pion's defaults. Set it to
	// tune ICE, e.g. NAT 1:1 addresses or loopback candidates.
	API *webrtc.API
}

// Connection is an established peer connection to the realtime API: one
// outgoing microphone track, the assistant's incoming audio track, and the
// event data channel.
type Connection struct {
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	track   *webrtc.TrackLocalStaticSample
	sink    EventSink
	logger  zerolog.Logger
	metrics *observability.Metrics

	recorderMu sync.Mutex
	recorder   *oggwriter.OggWriter

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Connect negotiates a peer connection using a short-lived token. Events from
// the data channel are delivered to sink for the lifetime of the connection.
// Failures are returned as is; retrying is up to the caller.
func Connect(ctx context.Context, cfg Config, token string, sink EventSink, metrics *observability.Metrics, logger zerolog.Logger) (*Connection, error) {
	if token == "" {
		return nil, errors.New("realtime token is required")
	}
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = "response"
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 15 * time.Second
	}

	newPeerConnection := webrtc.NewPeerConnection
	if cfg.API != nil {
		newPeerConnection = cfg.API.NewPeerConnection
	}
	pc, err := newPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &Connection{
		pc:      pc,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}

	if err := c.setup(cfg); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if metrics != nil {
		metrics.RecordNegotiationStart()
	}
	err = c.negotiate(ctx, cfg, token)
	if metrics != nil {
		metrics.RecordNegotiationEnd(err == nil)
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info().Str("model", cfg.Model).Str("voice", cfg.Voice).Msg("Connected to realtime API")
	return c, nil
}

func (c *Connection) setup(cfg Config) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"interviewer-mic",
	)
	if err != nil {
		return fmt.Errorf("failed to create microphone track: %w", err)
	}
	c.track = track

	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add microphone track: %w", err)
	}

	// RTCP has to be read for interceptors to work
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if cfg.RecordPath != "" {
		recorder, err := oggwriter.New(cfg.RecordPath, 48000, 2)
		if err != nil {
			return fmt.Errorf("failed to create ogg recorder: %w", err)
		}
		c.recorder = recorder
	}

	c.pc.OnTrack(c.handleRemoteTrack)
	c.pc.OnConnectionStateChange(c.handleConnectionState)

	dc, err := c.pc.CreateDataChannel(cfg.DataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.dc = dc

	dc.OnOpen(func() {
		if err := c.sendSessionUpdate(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to send session update")
			observability.RecordError("session_update", "realtime")
			return
		}
		c.logger.Debug().Str("label", dc.Label()).Msg("Data channel open, session update sent")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleMessage(msg.Data)
	})

	return nil
}

func (c *Connection) negotiate(ctx context.Context, cfg Config, token string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.NegotiationTimeout)
	defer cancel()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fmt.Errorf("ICE gathering did not complete: %w", ctx.Err())
	}

	negotiator := NewNegotiator(cfg.BaseURL, cfg.Model, cfg.Voice, cfg.NegotiationTimeout)
	c.logger.Info().Str("endpoint", negotiator.Endpoint()).Msg("Connecting to realtime API")

	answer, err := negotiator.Exchange(ctx, token, c.pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	return nil
}

func (c *Connection) sendSessionUpdate() error {
	payload, err := json.Marshal(NewSessionUpdate())
	if err != nil {
		return err
	}
	return c.dc.SendText(string(payload))
}

// handleMessage never lets a bad payload take the connection down
func (c *Connection) handleMessage(data []byte) {
	event, err := Dispatch(data, c.sink)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed data channel message")
		observability.RecordDataChannelEvent("malformed")
		return
	}

	observability.RecordDataChannelEvent(event.Type)
	if event.Type == EventError && event.Error != nil {
		c.logger.Error().
			Str("error_type", event.Error.Type).
			Str("code", event.Error.Code).
			Msg(event.Error.Message)
		observability.RecordError("api_event", "realtime")
	}
}

func (c *Connection) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.logger.Info().
		Str("codec", track.Codec().MimeType).
		Str("kind", track.Kind().String()).
		Msg("Remote track started")

	go func() {
		for {
			packet, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug().Err(err).Msg("Remote track ended")
				}
				return
			}

			if c.metrics != nil {
				c.metrics.RecordAudioBytes("inbound", int64(len(packet.Payload)))
			}

			c.recorderMu.Lock()
			if c.recorder != nil {
				if err := c.recorder.WriteRTP(packet); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to record assistant audio")
				}
			}
			c.recorderMu.Unlock()
		}
	}()
}

func (c *Connection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Info().Str("state", state.String()).Msg("Peer connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.sink.OnSessionStatusChange(StatusConnected)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.sink.OnSessionStatusChange(StatusDisconnected)
		c.sink.OnAudioPlayingChange(false)
		c.sink.OnAITypingChange(false)
		c.signalDone()
	}
}

func (c *Connection) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed once the peer connection fails or closes
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close tears down the peer connection and finishes any recording
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pc.Close()

		c.recorderMu.Lock()
		if c.recorder != nil {
			if err := c.recorder.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
			c.recorder = nil
		}
		c.recorderMu.Unlock()

		c.signalDone()
	})
	return c.closeErr
}
