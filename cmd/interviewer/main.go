package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/interviewer/internal/config"
	"github.com/lexiqai/interviewer/internal/httpapi"
	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/session"
)

const clearScreen = "\033[H\033[2J"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := cfg.ValidateClient(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	controller := session.New(cfg)
	reconciler := controller.Reconciler()

	mux := http.NewServeMux()
	mux.Handle("/ws/session", httpapi.NewHub(reconciler, controller.Commands(), observability.WithComponent("hub")))
	mux.HandleFunc("/health", observability.HealthCheckHandler("interviewer"))
	mux.HandleFunc("/ready", observability.ReadinessHandler("interviewer", map[string]observability.HealthCheckFunc{
		"session": func(ctx context.Context) (bool, error) {
			if !reconciler.Snapshot().Ready {
				return false, fmt.Errorf("session not connected")
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%s", cfg.InterviewerPort),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info().
			Str("endpoint", fmt.Sprintf("ws://127.0.0.1:%s/ws/session", cfg.InterviewerPort)).
			Msg("Session hub listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Session hub failed")
		}
	}()

	snapshots, unsubscribe := reconciler.Subscribe()
	go func() {
		for snapshot := range snapshots {
			fmt.Print(clearScreen + render(snapshot))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start interview")
		shutdown(controller, server, unsubscribe)
		os.Exit(1)
	}

	// Terminal input: enter toggles the mic, q quits
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
			case "q", "quit":
				stop()
				return
			default:
				controller.Commands() <- httpapi.Command{Type: httpapi.CommandToggleMic}
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Ending interview...")
	shutdown(controller, server, unsubscribe)
}

func shutdown(controller *session.Controller, server *http.Server, unsubscribe func()) {
	logger := observability.GetLogger()

	if err := controller.Close(); err != nil {
		logger.Warn().Err(err).Msg("Session closed with errors")
	}
	unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Session hub forced to shutdown")
	}
}
