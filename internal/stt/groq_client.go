package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/resilience"
)

// GroqClient transcribes audio with Whisper through Groq's OpenAI-compatible API
type GroqClient struct {
	client         *openai.Client
	model          string
	language       string
	timeout        time.Duration
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGroqClient creates a Groq Whisper client
func NewGroqClient(cfg *config.Config) *GroqClient {
	clientConfig := openai.DefaultConfig(cfg.GroqAPIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.GroqBaseURL, "/")

	return &GroqClient{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.GroqModel,
		language:       cfg.GroqLanguage,
		timeout:        time.Duration(cfg.TranscriptionTimeout) * time.Second,
		circuitBreaker: newCircuitBreaker(config.ProviderGroq, cfg),
		logger:         observability.WithComponent("groq"),
	}
}

// Name returns the provider name
func (g *GroqClient) Name() string {
	return config.ProviderGroq
}

func (g *GroqClient) breaker() *resilience.CircuitBreaker {
	return g.circuitBreaker
}

// Transcribe uploads the WAV payload and returns Whisper's text
func (g *GroqClient) Transcribe(ctx context.Context, wav []byte) (*TranscriptionResult, error) {
	if len(wav) == 0 {
		return nil, fmt.Errorf("empty audio")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	return transcribeProtected(g.circuitBreaker, func() (*TranscriptionResult, error) {
		resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    g.model,
			FilePath: "audio.wav",
			Reader:   bytes.NewReader(wav),
			Format:   openai.AudioResponseFormatJSON,
			Language: g.language,
		})
		if err != nil {
			return nil, fmt.Errorf("groq transcription failed: %w", err)
		}

		text := strings.TrimSpace(resp.Text)
		g.logger.Debug().
			Int("audio_bytes", len(wav)).
			Str("text", text).
			Msg("Groq Whisper transcription complete")

		return &TranscriptionResult{
			Text:     text,
			Duration: resp.Duration,
			Provider: config.ProviderGroq,
		}, nil
	})
}
