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
		Name: "companion_gateway_active_sessions",
		Help: "Number of mounted session controllers",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_gateway_calls_total",
		Help: "Total number of calls that reached the active state",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "companion_gateway_call_duration_seconds",
		Help:    "Duration of active calls in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 900, 1800, 3600},
	})

	startRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_gateway_start_requests_total",
		Help: "Start requests issued to the voice backend",
	}, []string{"status"})

	transcriptTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_gateway_transcript_fragments_total",
		Help: "Final transcript fragments folded into transcripts",
	}, []string{"outcome"}) // outcome: "appended" or "merged"

	// History metrics
	historyWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_gateway_history_writes_total",
		Help: "Session history writes",
	}, []string{"status"})

	historyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "companion_gateway_history_latency_seconds",
		Help:    "Session history write latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "companion_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_gateway_audio_bytes_total",
		Help: "Audio bytes forwarded from browsers to the voice backend",
	})
)

// Metrics tracks metrics for a single mounted session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionID     string
	mu            sync.Mutex
	callStartTime time.Time
}

// NewSessionMetrics creates a metrics tracker and counts the session as mounted.
func NewSessionMetrics(sessionID string) *Metrics {
	activeSessions.Inc()
	return &Metrics{sessionID: sessionID}
}

// RecordUnmount records that the session controller was torn down.
func (m *Metrics) RecordUnmount() {
	if m == nil {
		return
	}
	activeSessions.Dec()
}

// RecordStartRequest records the outcome of a start request.
func (m *Metrics) RecordStartRequest(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	startRequests.WithLabelValues(status).Inc()
}

// RecordCallActive marks the beginning of an active call.
func (m *Metrics) RecordCallActive() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.callStartTime = time.Now()
	m.mu.Unlock()
	totalCalls.Inc()
}

// RecordCallFinished observes the duration of the call that just left the active state.
func (m *Metrics) RecordCallFinished() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callStartTime.IsZero() {
		return
	}
	callDuration.Observe(time.Since(m.callStartTime).Seconds())
	m.callStartTime = time.Time{}
}

// RecordFragment records a final fragment folded into the transcript.
func (m *Metrics) RecordFragment(merged bool) {
	if m == nil {
		return
	}
	outcome := "appended"
	if merged {
		outcome = "merged"
	}
	transcriptTurns.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	RecordError(errorType, component)
}

// RecordError records an error that is not tied to a session.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes forwarded to the backend.
func RecordAudioBytes(n int) {
	audioBytesForwarded.Add(float64(n))
}

// RecordHistoryWrite records a session history write and its latency.
func RecordHistoryWrite(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	historyWrites.WithLabelValues(status).Inc()
	historyLatency.Observe(latency.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
