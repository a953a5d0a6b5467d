package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/httpapi"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/realtime"
	"github.com/lexiqai/interviewer/internal/resilience"
	"github.com/lexiqai/interviewer/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	instructions, err := cfg.Instructions()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load interviewer instructions")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("transcription_provider", cfg.TranscriptionProvider).
		Str("realtime_model", cfg.RealtimeModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interviewer API starting")

	transcriber, err := stt.NewTranscriber(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transcriber")
	}

	minter := realtime.NewTokenMinter(
		cfg.RealtimeSessionsURL,
		cfg.OpenAIAPIKey,
		cfg.RealtimeModel,
		cfg.RealtimeVoice,
		instructions,
		&resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/audio-analysis", httpapi.AnalysisHandler(transcriber, observability.WithComponent("audio-analysis")))
	mux.HandleFunc("/api/session", httpapi.SessionHandler(minter, observability.WithComponent("session")))

	mux.HandleFunc("/health", observability.HealthCheckHandler("interviewer-api"))

	// Readiness validates configuration and breaker state to avoid API costs
	mux.HandleFunc("/ready", observability.ReadinessHandler("interviewer-api", map[string]observability.HealthCheckFunc{
		"realtime": func(ctx context.Context) (bool, error) {
			if cfg.OpenAIAPIKey == "" {
				return false, fmt.Errorf("OPENAI_API_KEY not set")
			}
			return true, nil
		},
		transcriber.Name(): func(ctx context.Context) (bool, error) {
			if err := cfg.ValidateServer(); err != nil {
				return false, err
			}
			if err := stt.CheckHealth(transcriber); err != nil {
				return false, err
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts; transcription can take a while
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.TranscriptionTimeout+15) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/audio-analysis", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
