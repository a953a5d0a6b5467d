package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/audio"
	"github.com/lexiqai/interviewer/internal/stt"
	"github.com/lexiqai/interviewer/internal/transcript"
)

const maxAnalysisBody = 16 << 20

// ErrNoTranscription is returned when the server answers without text
var ErrNoTranscription = errors.New("no transcription returned")

// AnalysisRequest is the body of POST /api/audio-analysis
type AnalysisRequest struct {
	UserAudio string `json:"userAudio"`
}

// AnalysisResponse is the success body of POST /api/audio-analysis
type AnalysisResponse struct {
	Transcription string `json:"transcription"`
	Speaker       string `json:"speaker"`
}

// AnalysisHandler transcribes a recorded answer with the configured provider
func AnalysisHandler(transcriber stt.Transcriber, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}

		var req AnalysisRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAnalysisBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if req.UserAudio == "" {
			writeError(w, http.StatusBadRequest, "No audio data provided", "userAudio is required")
			return
		}

		wav, err := audio.DecodeAudioPayload(req.UserAudio)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid audio data", err.Error())
			return
		}

		start := time.Now()
		result, err := transcriber.Transcribe(r.Context(), wav)
		if err != nil {
			logger.Error().
				Err(err).
				Str("provider", transcriber.Name()).
				Msg("Transcription failed")
			writeError(w, http.StatusBadGateway, "Failed to transcribe audio", err.Error())
			return
		}

		logger.Info().
			Str("provider", transcriber.Name()).
			Int("audio_bytes", len(wav)).
			Dur("latency", time.Since(start)).
			Int("text_length", len(result.Text)).
			Msg("Audio transcribed")

		writeJSON(w, http.StatusOK, AnalysisResponse{
			Transcription: result.Text,
			Speaker:       string(transcript.SpeakerHuman),
		})
	}
}

// AnalysisError is returned for non-2xx answers from the analysis endpoint
type AnalysisError struct {
	StatusCode int
	Details    string
}

func (e *AnalysisError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("failed to transcribe audio (status %d)", e.StatusCode)
	}
	return e.Details
}

// HTTPStatus exposes the status code to retry classification
func (e *AnalysisError) HTTPStatus() int {
	return e.StatusCode
}

// AnalysisClient submits recorded answers to the analysis endpoint
type AnalysisClient struct {
	URL    string
	Client *http.Client
	logger zerolog.Logger
}

func NewAnalysisClient(url string, timeout time.Duration, logger zerolog.Logger) *AnalysisClient {
	return &AnalysisClient{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Transcribe posts userAudio (a WAV data URL) and returns the text and speaker.
// Failures are logged and returned; there is no retry.
func (c *AnalysisClient) Transcribe(ctx context.Context, userAudio string) (string, transcript.Speaker, error) {
	if userAudio == "" {
		return "", "", audio.ErrEmptyAudio
	}

	text, speaker, err := c.post(ctx, userAudio)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error transcribing recorded answer")
		return "", "", err
	}
	return text, speaker, nil
}

func (c *AnalysisClient) post(ctx context.Context, userAudio string) (string, transcript.Speaker, error) {
	body, err := json.Marshal(AnalysisRequest{UserAudio: userAudio})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read analysis response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return "", "", &AnalysisError{StatusCode: resp.StatusCode, Details: apiErr.Details}
	}

	var out AnalysisResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", "", fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if out.Transcription == "" || out.Speaker == "" {
		return "", "", ErrNoTranscription
	}

	return out.Transcription, transcript.ParseSpeaker(out.Speaker), nil
}
