package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/resilience"
)

// TranscriptionResult represents the transcription of one audio segment
type TranscriptionResult struct {
	// Text is the transcribed text, empty when no speech was recognized
	Text string

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// Duration is the duration of the audio in seconds
	Duration float64

	// Provider names the service that produced the result
	Provider string
}

// Transcriber turns one WAV-encoded utterance into text
type Transcriber interface {
	// Transcribe sends the audio to the provider and waits for the result
	Transcribe(ctx context.Context, wav []byte) (*TranscriptionResult, error)

	// Name returns the provider name used in logs and metrics
	Name() string
}

// NewTranscriber returns the provider selected by TRANSCRIPTION_PROVIDER
func NewTranscriber(cfg *config.Config) (Transcriber, error) {
	switch cfg.TranscriptionProvider {
	case config.ProviderGroq:
		return NewGroqClient(cfg), nil
	case config.ProviderDeepgram:
		return NewDeepgramClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.TranscriptionProvider)
	}
}

type guarded interface {
	breaker() *resilience.CircuitBreaker
}

// CheckHealth returns an error while the provider's circuit breaker is open
func CheckHealth(t Transcriber) error {
	g, ok := t.(guarded)
	if !ok {
		return nil
	}

	cb := g.breaker()
	if cb.GetState() != resilience.StateOpen {
		return nil
	}

	_, requests, failures, rate := cb.GetStats()
	return fmt.Errorf("%s circuit open: %d of %d requests failed (%.0f%%)", t.Name(), failures, requests, rate)
}

// newCircuitBreaker creates a breaker that exports its state as metrics
func newCircuitBreaker(name string, cfg *config.Config) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(
		name,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	).OnResult(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if failed {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})
}

// transcribeProtected runs fn behind the breaker and records latency
func transcribeProtected(cb *resilience.CircuitBreaker, fn func() (*TranscriptionResult, error)) (*TranscriptionResult, error) {
	start := time.Now()

	var result *TranscriptionResult
	err := cb.Call(func() error {
		r, err := fn()
		result = r
		return err
	})

	observability.RecordTranscription(cb.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}
