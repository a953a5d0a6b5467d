package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription providers accepted by TRANSCRIPTION_PROVIDER.
const (
	ProviderGroq     = "groq"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the interviewer server and client
type Config struct {
	// Server configuration (cmd/server)
	Port string `envconfig:"PORT" default:"8080"`

	// Client event hub / metrics listener (cmd/interviewer)
	InterviewerPort string `envconfig:"INTERVIEWER_PORT" default:"8081"`

	// Realtime speech API. The API key is only needed where tokens are minted.
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY" default:""`
	RealtimeToken        string `envconfig:"REALTIME_EPHEMERAL_TOKEN" default:""` // Pre-minted token, skips /api/session
	RealtimeBaseURL      string `envconfig:"REALTIME_BASE_URL" default:"https://api.openai.com/v1/realtime"`
	RealtimeSessionsURL  string `envconfig:"REALTIME_SESSIONS_URL" default:"https://api.openai.com/v1/realtime/sessions"`
	RealtimeModel        string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview-2024-12-17"`
	RealtimeVoice        string `envconfig:"REALTIME_VOICE" default:"alloy"`
	RealtimeDataChannel  string `envconfig:"REALTIME_DATA_CHANNEL" default:"response"`
	NegotiationTimeout   int    `envconfig:"REALTIME_NEGOTIATION_TIMEOUT" default:"15"` // seconds
	InterviewerPrompt    string `envconfig:"INTERVIEWER_PROMPT_FILE" default:""`        // Overrides the built-in interviewer instructions
	SessionTokenURL      string `envconfig:"SESSION_TOKEN_URL" default:"http://localhost:8080/api/session"`
	AIAudioRecordPath    string `envconfig:"AI_AUDIO_RECORD_PATH" default:""` // Ogg file for the assistant's audio track
	FallbackTranscribing bool   `envconfig:"FALLBACK_TRANSCRIPTION_ENABLED" default:"true"`

	// Transcription fallback endpoint
	TranscriptionURL      string `envconfig:"TRANSCRIPTION_URL" default:"http://localhost:8080/api/audio-analysis"`
	TranscriptionProvider string `envconfig:"TRANSCRIPTION_PROVIDER" default:"groq"` // groq, deepgram
	TranscriptionTimeout  int    `envconfig:"TRANSCRIPTION_TIMEOUT" default:"30"`    // seconds

	// Groq Whisper (OpenAI-compatible API)
	GroqAPIKey   string `envconfig:"GROQ_API_KEY" default:""`
	GroqBaseURL  string `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	GroqModel    string `envconfig:"GROQ_MODEL" default:"whisper-large-v3"`
	GroqLanguage string `envconfig:"GROQ_LANGUAGE" default:"en"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Microphone capture
	AudioRecorderCommand string `envconfig:"AUDIO_RECORDER_COMMAND" default:"ffmpeg"`
	AudioInputFormat     string `envconfig:"AUDIO_INPUT_FORMAT" default:"pulse"`
	AudioInputDevice     string `envconfig:"AUDIO_INPUT_DEVICE" default:"default"`
	AudioSampleRate      int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioSegmentMaxBytes int    `envconfig:"AUDIO_SEGMENT_MAX_BYTES" default:"960000"` // 30s of 16kHz mono PCM

	// Voice activity detection for the fallback path
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"` // 20ms frames

	// Transcript reconciliation
	HumanDedupWindowMs int   `envconfig:"HUMAN_DEDUP_WINDOW_MS" default:"2000"`
	ResetDelaysMs      []int `envconfig:"RESET_DELAYS_MS" default:"50,200"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"1"`  // 1 = no retry
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`    // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file (ENV_FILE overrides the path), then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load(GetEnv("ENV_FILE", ".env"))
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.TranscriptionProvider = strings.ToLower(strings.TrimSpace(cfg.TranscriptionProvider))
	switch cfg.TranscriptionProvider {
	case ProviderGroq, ProviderDeepgram:
	default:
		return nil, fmt.Errorf("TRANSCRIPTION_PROVIDER must be %q or %q, got %q", ProviderGroq, ProviderDeepgram, cfg.TranscriptionProvider)
	}
	if cfg.HumanDedupWindowMs <= 0 {
		return nil, fmt.Errorf("HUMAN_DEDUP_WINDOW_MS must be positive")
	}
	if cfg.ReconnectMaxAttempts < 1 {
		cfg.ReconnectMaxAttempts = 1
	}

	return &cfg, nil
}

// ValidateServer checks the keys cmd/server cannot run without
func (c *Config) ValidateServer() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch c.TranscriptionProvider {
	case ProviderGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required when TRANSCRIPTION_PROVIDER=groq")
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIPTION_PROVIDER=deepgram")
		}
	}
	return nil
}

// ValidateClient checks that cmd/interviewer has some way to obtain a realtime token
func (c *Config) ValidateClient() error {
	if c.RealtimeToken == "" && c.SessionTokenURL == "" {
		return fmt.Errorf("either REALTIME_EPHEMERAL_TOKEN or SESSION_TOKEN_URL is required")
	}
	if c.FallbackTranscribing && c.TranscriptionURL == "" {
		return fmt.Errorf("TRANSCRIPTION_URL is required when fallback transcription is enabled")
	}
	return nil
}

// HumanDedupWindow returns the Human transcript re-delivery window
func (c *Config) HumanDedupWindow() time.Duration {
	return time.Duration(c.HumanDedupWindowMs) * time.Millisecond
}

// ResetDelays returns the follow-up delays for the mic-off visualization reset
func (c *Config) ResetDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.ResetDelaysMs))
	for _, ms := range c.ResetDelaysMs {
		if ms > 0 {
			delays = append(delays, time.Duration(ms)*time.Millisecond)
		}
	}
	return delays
}

// Instructions returns the interviewer system prompt, read from
// INTERVIEWER_PROMPT_FILE when set
func (c *Config) Instructions() (string, error) {
	if c.InterviewerPrompt == "" {
		return DefaultInstructions, nil
	}
	data, err := os.ReadFile(c.InterviewerPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to read interviewer prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
