package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Producer metrics
	producerCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_producer_cycles_total",
		Help: "Total number of kernels processed by the producer",
	})

	producerSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_producer_skipped_total",
		Help: "Render requests acknowledged without a full kernel of input",
	})

	producerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectral_pipeline_producer_cycle_seconds",
		Help:    "Time spent transforming one kernel",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	// Ring buffer metrics
	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_dropped_frames_total",
		Help: "Samples overwritten before they were read",
	}, []string{"ring"}) // ring: "input", "output", "source" or "hub"

	underruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_underruns_total",
		Help: "Reads that found fewer samples than requested",
	}, []string{"ring"})

	ringFill = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spectral_pipeline_ring_available_frames",
		Help: "Frames currently available in a ring",
	}, []string{"ring"})

	// Render metrics
	renderQuanta = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_render_quanta_total",
		Help: "Total number of render quanta processed",
	})

	renderRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_render_requests_total",
		Help: "Total number of render requests raised",
	})

	framesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_frames_emitted_total",
		Help: "Kernel frames handed to the sink",
	}, []string{"transform"})

	// Source metrics
	sourceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_source_reconnects_total",
		Help: "Source reconnection attempts",
	}, []string{"status"})

	// Stream metrics
	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectral_pipeline_active_subscribers",
		Help: "Number of connected stream subscribers",
	})

	totalSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_subscribers_total",
		Help: "Total number of stream subscribers served",
	})

	subscriberDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectral_pipeline_subscriber_duration_seconds",
		Help:    "Duration of stream subscriptions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	subscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectral_pipeline_subscriber_dropped_total",
		Help: "Events dropped because a subscriber queue was full",
	})

	subjectsRetained = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectral_pipeline_subjects_retained",
		Help: "Subjects currently held for decisions",
	})

	subjectsEvicted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectral_pipeline_subjects_evicted",
		Help: "Subjects evicted for capacity since start",
	})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_decisions_total",
		Help: "Decisions recorded against subjects",
	}, []string{"kind", "status"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spectral_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectral_pipeline_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RecordProducerCycle records one processed kernel
func RecordProducerCycle(d time.Duration) {
	producerCycles.Inc()
	producerLatency.Observe(d.Seconds())
}

// RecordProducerSkip records a render request that found too little input
func RecordProducerSkip() {
	producerSkips.Inc()
}

// RecordDroppedFrames records samples lost to overwrite, or whole frames
// for the hub
func RecordDroppedFrames(ring string, n int) {
	droppedFrames.WithLabelValues(ring).Add(float64(n))
}

// RecordUnderrun records a short read
func RecordUnderrun(ring string) {
	underruns.WithLabelValues(ring).Inc()
}

// SetRingFill updates the available-frames gauge for a ring
func SetRingFill(ring string, available int) {
	ringFill.WithLabelValues(ring).Set(float64(available))
}

// RecordRenderQuantum records one render callback, and whether it raised a request
func RecordRenderQuantum(requested bool) {
	renderQuanta.Inc()
	if requested {
		renderRequests.Inc()
	}
}

// RecordFrameEmitted records a frame delivered to the sink
func RecordFrameEmitted(transform string) {
	framesEmitted.WithLabelValues(transform).Inc()
}

// RecordSourceReconnect records a reconnection attempt
func RecordSourceReconnect(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sourceReconnects.WithLabelValues(status).Inc()
}

// RecordSubscriberDrop records an event a slow subscriber missed
func RecordSubscriberDrop() {
	subscriberDrops.Inc()
}

// SetSubjects records the decision store's occupancy
func SetSubjects(retained int, evicted uint64) {
	subjectsRetained.Set(float64(retained))
	subjectsEvicted.Set(float64(evicted))
}

// RecordDecision records a decision submission
func RecordDecision(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	decisions.WithLabelValues(kind, status).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// Metrics tracks metrics for a single stream subscription
type Metrics struct {
	sessionID string
	startTime time.Time
	sent      int64
	dropped   int64
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a subscriber session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a subscription
func (m *Metrics) RecordSessionStart() {
	activeSubscribers.Inc()
	totalSubscribers.Inc()
}

// RecordSessionEnd records the end of a subscription
func (m *Metrics) RecordSessionEnd() {
	activeSubscribers.Dec()
	subscriberDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSent records an event written to the subscriber
func (m *Metrics) RecordSent(bytes int) {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	RecordAudioBytes("out", int64(bytes))
}

// RecordDropped records an event the subscriber missed
func (m *Metrics) RecordDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
	RecordSubscriberDrop()
}

// Counts returns the events sent and dropped for this session
func (m *Metrics) Counts() (sent, dropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.dropped
}
