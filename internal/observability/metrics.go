package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interviewer_active_sessions",
		Help: "Number of active interview sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewer_sessions_total",
		Help: "Total number of interview sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewer_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
	})

	// Realtime negotiation metrics
	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_negotiations_total",
		Help: "Total number of SDP offer/answer negotiations",
	}, []string{"status"})

	negotiationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewer_negotiation_latency_seconds",
		Help:    "SDP negotiation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	tokenMints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_token_mints_total",
		Help: "Total number of ephemeral realtime token requests",
	}, []string{"status"})

	// Transcript metrics
	transcriptsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_transcripts_received_total",
		Help: "Transcript texts received by speaker",
	}, []string{"speaker"})

	transcriptsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewer_transcripts_deduplicated_total",
		Help: "Human transcripts dropped as re-deliveries",
	})

	aiCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewer_ai_commits_total",
		Help: "Pending AI messages committed to the transcript",
	})

	pendingOverwrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewer_pending_overwrites_total",
		Help: "Pending AI messages replaced before being committed",
	})

	dataChannelEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_data_channel_events_total",
		Help: "Inbound data channel events by type",
	}, []string{"type"})

	// Transcription fallback metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_transcription_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"provider", "status"})

	transcriptionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interviewer_transcription_latency_seconds",
		Help:    "Transcription latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interviewer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewer_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	audioLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interviewer_audio_level",
		Help: "Smoothed visualization audio level (0-1)",
	})
)

// Metrics tracks metrics for a single interview session
type Metrics struct {
	sessionID        string
	startTime        time.Time
	negotiationStart time.Time
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordNegotiationStart records the start of an offer/answer exchange
func (m *Metrics) RecordNegotiationStart() {
	m.mu.Lock()
	m.negotiationStart = time.Now()
	m.mu.Unlock()
}

// RecordNegotiationEnd records the end of an offer/answer exchange
func (m *Metrics) RecordNegotiationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.negotiationStart.IsZero() {
		negotiationLatency.Observe(time.Since(m.negotiationStart).Seconds())
	}
	negotiations.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error outside a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordTokenMint records an ephemeral token request
func RecordTokenMint(success bool) {
	tokenMints.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTranscript records a transcript text received for a speaker
func RecordTranscript(speaker string) {
	transcriptsReceived.WithLabelValues(speaker).Inc()
}

// RecordTranscriptDeduplicated records a dropped Human re-delivery
func RecordTranscriptDeduplicated() {
	transcriptsDeduplicated.Inc()
}

// RecordAICommit records a pending AI message becoming visible
func RecordAICommit() {
	aiCommits.Inc()
}

// RecordPendingOverwrite records a pending AI message replaced before commit
func RecordPendingOverwrite() {
	pendingOverwrites.Inc()
}

// RecordDataChannelEvent records an inbound data channel event by type
func RecordDataChannelEvent(eventType string) {
	dataChannelEvents.WithLabelValues(eventType).Inc()
}

// RecordTranscription records a fallback transcription call
func RecordTranscription(provider string, success bool, latency time.Duration) {
	transcriptionRequests.WithLabelValues(provider, statusLabel(success)).Inc()
	transcriptionLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SetAudioLevel exports the current visualization level
func SetAudioLevel(level float64) {
	audioLevel.Set(level)
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
