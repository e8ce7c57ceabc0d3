package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calling_agent_active_calls",
		Help: "Number of active calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_agent_calls_total",
		Help: "Total number of calls processed",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_call_duration_seconds",
		Help:    "Duration of calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Utterance metrics
	utterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_agent_utterances_total",
		Help: "Total number of caller utterances emitted",
	})

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_utterance_duration_seconds",
		Help:    "Duration of accumulated caller utterances in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Barge-in metrics
	interruptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_agent_interruptions_total",
		Help: "Total number of caller barge-ins that cancelled bot speech",
	})

	interruptionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_interruption_confidence",
		Help:    "Speech confidence at the moment an interruption fired",
		Buckets: []float64{0.35, 0.45, 0.55, 0.65, 0.75, 0.85, 0.95},
	})

	interruptionReaction = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_interruption_reaction_seconds",
		Help:    "Time from caller speech onset to playback cancellation",
		Buckets: []float64{0.3, 0.4, 0.5, 0.75, 1.0, 1.5, 2.0, 3.0},
	})

	// Playback metrics
	playbackChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_playback_chunks_total",
		Help: "Total playback chunks by outcome",
	}, []string{"outcome"}) // outcome: "sent" or "cancelled"

	playbackStaleDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_agent_playback_stale_drops_total",
		Help: "Total playback requests dropped for exceeding max age",
	})

	// VAD metrics
	vadFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_agent_vad_fallbacks_total",
		Help: "Total frames classified by the energy fallback instead of the classifier",
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_stt_latency_seconds",
		Help:    "STT processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Reply backend metrics
	replyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_reply_requests_total",
		Help: "Total number of reply backend requests",
	}, []string{"status"})

	replyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calling_agent_reply_latency_seconds",
		Help:    "Reply backend processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calling_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "inbound" or "outbound"
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID         string
	startTime      time.Time
	sttStartTime   time.Time
	ttsStartTime   time.Time
	replyStartTime time.Time
	mu             sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	duration := time.Since(m.startTime).Seconds()
	callDuration.Observe(duration)
}

// RecordUtterance records an accumulated caller utterance
func (m *Metrics) RecordUtterance(duration time.Duration) {
	utterancesTotal.Inc()
	utteranceDuration.Observe(duration.Seconds())
}

// RecordInterruption records a barge-in that cancelled bot speech. reaction
// is the time from speech onset to the cancellation taking effect.
func (m *Metrics) RecordInterruption(confidence float64, reaction time.Duration) {
	interruptionsTotal.Inc()
	interruptionConfidence.Observe(confidence)
	interruptionReaction.Observe(reaction.Seconds())
}

// RecordSTTStart records the start of STT processing
func (m *Metrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the end of STT processing
func (m *Metrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		latency := time.Since(m.sttStartTime).Seconds()
		sttLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	sttRequests.WithLabelValues(status).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		latency := time.Since(m.ttsStartTime).Seconds()
		ttsLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordReplyStart records the start of reply backend processing
func (m *Metrics) RecordReplyStart() {
	m.mu.Lock()
	m.replyStartTime = time.Now()
	m.mu.Unlock()
}

// RecordReplyEnd records the end of reply backend processing
func (m *Metrics) RecordReplyEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.replyStartTime.IsZero() {
		latency := time.Since(m.replyStartTime).Seconds()
		replyLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	replyRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPlaybackChunk records a single streamed speech chunk
func RecordPlaybackChunk(cancelled bool) {
	outcome := "sent"
	if cancelled {
		outcome = "cancelled"
	}
	playbackChunks.WithLabelValues(outcome).Inc()
}

// RecordStaleDrop records a playback request dropped for age
func RecordStaleDrop() {
	playbackStaleDrops.Inc()
}

// RecordVADFallback records a frame that used the energy fallback
func RecordVADFallback() {
	vadFallbacks.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
