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
		Name: "lounge_active_sessions",
		Help: "Number of open voice sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_sessions_total",
		Help: "Total number of voice sessions started",
	}, []string{"persona"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lounge_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_session_state_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"state"})

	// Audio metrics
	audioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_audio_frames_total",
		Help: "Captured audio frames by outcome",
	}, []string{"outcome"}) // outcome: "sent" or "dropped"

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_audio_bytes_total",
		Help: "Total PCM16 audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	playbackChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lounge_playback_chunks_total",
		Help: "Audio chunks scheduled for playback",
	})

	captureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lounge_capture_level_rms",
		Help: "RMS level of the most recent captured frame",
	})

	// Tool metrics
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_tool_calls_total",
		Help: "Tool calls dispatched by name and outcome",
	}, []string{"name", "outcome"})

	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_transcript_entries_total",
		Help: "Transcript entries appended by speaker",
	}, []string{"speaker"})

	// Proxy metrics
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_proxy_requests_total",
		Help: "Proxied requests by kind and status code",
	}, []string{"kind", "status"})

	proxyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lounge_proxy_upstream_latency_seconds",
		Help:    "Upstream latency for proxied HTTP requests and websocket dials",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"kind"})

	// Dictation metrics
	dictationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_dictation_results_total",
		Help: "Speech-to-text results received",
	}, []string{"final"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lounge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lounge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single voice session
type Metrics struct {
	sessionID string
	persona   string
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, persona string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		persona:   persona,
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.startTime = time.Now()
	activeSessions.Inc()
	totalSessions.WithLabelValues(m.persona).Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStateChange records a transition into state
func (m *Metrics) RecordStateChange(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

// RecordFrame records a captured frame that was sent or dropped
func (m *Metrics) RecordFrame(sent bool, bytes int) {
	if !sent {
		audioFrames.WithLabelValues("dropped").Inc()
		return
	}
	audioFrames.WithLabelValues("sent").Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordCaptureLevel records the RMS level of a captured frame
func (m *Metrics) RecordCaptureLevel(rms float64) {
	captureLevel.Set(rms)
}

// RecordPlaybackChunk records an audio chunk received for playback
func (m *Metrics) RecordPlaybackChunk(bytes int) {
	playbackChunks.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordToolCall records a dispatched tool call
func (m *Metrics) RecordToolCall(name, outcome string) {
	toolCalls.WithLabelValues(name, outcome).Inc()
}

// RecordTranscriptEntry records an appended transcript entry
func (m *Metrics) RecordTranscriptEntry(speaker string) {
	transcriptEntries.WithLabelValues(speaker).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordProxyRequest records a proxied request outcome
func RecordProxyRequest(kind string, status int, latency time.Duration) {
	proxyRequests.WithLabelValues(kind, statusLabel(status)).Inc()
	if latency > 0 {
		proxyLatency.WithLabelValues(kind).Observe(latency.Seconds())
	}
}

// RecordDictationResult records a speech-to-text result
func RecordDictationResult(final bool) {
	label := "false"
	if final {
		label = "true"
	}
	dictationResults.WithLabelValues(label).Inc()
}

// RecordError records an error outside of a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status == 101:
		return "101"
	default:
		return "other"
	}
}
