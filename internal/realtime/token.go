package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/resilience"
)

// Token is a short-lived realtime session credential
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model"`
	Voice     string    `json:"voice"`
}

// TokenError is returned when the sessions endpoint rejects a mint request
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("realtime session error: %d - %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to retry classification
func (e *TokenError) HTTPStatus() int {
	return e.StatusCode
}

type sessionRequest struct {
	Model                   string                `json:"model"`
	Voice                   string                `json:"voice"`
	Instructions            string                `json:"instructions,omitempty"`
	Modalities              []string              `json:"modalities"`
	InputAudioTranscription *transcriptionSetting `json:"input_audio_transcription,omitempty"`
}

type transcriptionSetting struct {
	Model string `json:"model"`
}

type sessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// TokenMinter creates ephemeral realtime tokens with the server API key
type TokenMinter struct {
	URL                string
	APIKey             string
	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string
	Client             *http.Client
	Retry              *resilience.RetryConfig
	logger             zerolog.Logger
}

// NewTokenMinter creates a token minter
func NewTokenMinter(url, apiKey, model, voice, instructions string, retry *resilience.RetryConfig) *TokenMinter {
	return &TokenMinter{
		URL:                url,
		APIKey:             apiKey,
		Model:              model,
		Voice:              voice,
		Instructions:       instructions,
		TranscriptionModel: "whisper-1",
		Client:             &http.Client{Timeout: 15 * time.Second},
		Retry:              retry,
		logger:             observability.WithComponent("token_minter"),
	}
}

// Mint requests a new ephemeral token, retrying transient failures
func (m *TokenMinter) Mint(ctx context.Context) (*Token, error) {
	var token *Token
	attempt := 0

	err := resilience.RetryContext(ctx, func() error {
		attempt++
		t, err := m.mintOnce(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Token mint attempt failed")
			return err
		}
		token = t
		return nil
	}, m.Retry, resilience.IsRetryableNetworkError)

	observability.RecordTokenMint(err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to mint realtime token: %w", err)
	}
	return token, nil
}

func (m *TokenMinter) mintOnce(ctx context.Context) (*Token, error) {
	body := sessionRequest{
		Model:        m.Model,
		Voice:        m.Voice,
		Instructions: m.Instructions,
		Modalities:   []string{"text", "audio"},
	}
	if m.TranscriptionModel != "" {
		body.InputAudioTranscription = &transcriptionSetting{Model: m.TranscriptionModel}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to reach sessions endpoint: %w", err)
		if ctx.Err() != nil {
			return nil, err
		}
		// Transport failures never reached the API, so another attempt is safe
		return nil, resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TokenError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.ClientSecret.Value == "" {
		return nil, fmt.Errorf("session response has no client secret")
	}

	token := &Token{
		Value:     session.ClientSecret.Value,
		SessionID: session.ID,
		Model:     session.Model,
		Voice:     session.Voice,
	}
	if session.ClientSecret.ExpiresAt > 0 {
		token.ExpiresAt = time.Unix(session.ClientSecret.ExpiresAt, 0).UTC()
	}
	if token.Model == "" {
		token.Model = m.Model
	}
	if token.Voice == "" {
		token.Voice = m.Voice
	}

	return token, nil
}
