// Package metrics provides the Prometheus collectors for the streaming pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gate label values
const (
	GateReady   = "ready"
	GateFilling = "filling"
)

// StreamMetrics covers the shared buffer, the prebuffer gate and client sessions.
// It implements the buffer and broadcaster observer interfaces.
type StreamMetrics struct {
	registry *prometheus.Registry

	// Buffer metrics
	bufferFillRatio     prometheus.Gauge
	bufferBytes         prometheus.Gauge
	bufferChunks        prometheus.Gauge
	bufferEvictedTotal  prometheus.Counter
	bytesWrittenTotal   prometheus.Counter
	chunksWrittenTotal  prometheus.Counter
	bytesReadTotal      prometheus.Counter
	gateOpen            prometheus.Gauge
	gateTransitionTotal *prometheus.CounterVec

	// Session metrics
	sessionsActive     prometheus.Gauge
	sessionsTotal      prometheus.Counter
	sessionDuration    prometheus.Histogram
	cursorSkipsTotal   prometheus.Counter
	skippedChunksTotal prometheus.Counter
}

// NewStreamMetrics creates and registers the stream metrics
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.bufferFillRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turntable_buffer_fill_ratio",
		Help: "Buffered bytes divided by capacity (0.0 to 1.0)",
	})
	m.bufferBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turntable_buffer_bytes",
		Help: "Bytes currently held in the ring buffer",
	})
	m.bufferChunks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turntable_buffer_chunks",
		Help: "Chunks currently held in the ring buffer",
	})
	m.bufferEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_buffer_evicted_chunks_total",
		Help: "Chunks dropped from the front of the ring buffer on overflow",
	})
	m.bytesWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_bytes_written_total",
		Help: "PCM bytes pushed into the ring buffer",
	})
	m.chunksWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_chunks_written_total",
		Help: "Chunks pushed into the ring buffer",
	})
	m.bytesReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_bytes_read_total",
		Help: "PCM bytes delivered to clients, summed over all sessions",
	})
	m.gateOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turntable_gate_open",
		Help: "1 when the prebuffer gate is ready, 0 while filling",
	})
	m.gateTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turntable_gate_transitions_total",
			Help: "Prebuffer gate transitions by target state",
		},
		[]string{"to"}, // to: ready, filling
	)

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turntable_stream_sessions_active",
		Help: "Connected stream clients",
	})
	m.sessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_stream_sessions_total",
		Help: "Stream sessions accepted since start",
	})
	m.sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "turntable_stream_session_duration_seconds",
		Help:    "Lifetime of stream sessions",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1s to ~4.5h
	})
	m.cursorSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_stream_cursor_skips_total",
		Help: "Times a lagging session cursor was moved past evicted audio",
	})
	m.skippedChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_stream_skipped_chunks_total",
		Help: "Chunks lagging sessions never received because they were evicted",
	})
	// report the initial gate state
	m.gateTransitionTotal.WithLabelValues(GateReady)
	m.gateTransitionTotal.WithLabelValues(GateFilling)
}

// ChunkPushed records a buffer push
func (m *StreamMetrics) ChunkPushed(bytes, bufferedBytes, bufferedChunks int, fillRatio float64) {
	m.bytesWrittenTotal.Add(float64(bytes))
	m.chunksWrittenTotal.Inc()
	m.bufferBytes.Set(float64(bufferedBytes))
	m.bufferChunks.Set(float64(bufferedChunks))
	m.bufferFillRatio.Set(fillRatio)
}

// ChunksEvicted records overflow evictions
func (m *StreamMetrics) ChunksEvicted(chunks int) {
	m.bufferEvictedTotal.Add(float64(chunks))
}

// ChunksExpired records chunks dropped by age and the occupancy left behind
func (m *StreamMetrics) ChunksExpired(chunks, bufferedBytes, bufferedChunks int, fillRatio float64) {
	m.bufferEvictedTotal.Add(float64(chunks))
	m.bufferBytes.Set(float64(bufferedBytes))
	m.bufferChunks.Set(float64(bufferedChunks))
	m.bufferFillRatio.Set(fillRatio)
}

// GateChanged records a gate transition
func (m *StreamMetrics) GateChanged(ready bool) {
	if ready {
		m.gateOpen.Set(1)
		m.gateTransitionTotal.WithLabelValues(GateReady).Inc()
		return
	}
	m.gateOpen.Set(0)
	m.gateTransitionTotal.WithLabelValues(GateFilling).Inc()
}

// SessionStarted records a new client
func (m *StreamMetrics) SessionStarted() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionEnded records a client leaving
func (m *StreamMetrics) SessionEnded(duration time.Duration) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(duration.Seconds())
}

// CursorSkipped records a lagging cursor snapping forward
func (m *StreamMetrics) CursorSkipped(chunks uint64) {
	m.cursorSkipsTotal.Inc()
	m.skippedChunksTotal.Add(float64(chunks))
}

// Delivered records bytes written to a client
func (m *StreamMetrics) Delivered(bytes int) {
	m.bytesReadTotal.Add(float64(bytes))
}

// Describe implements the prometheus.Collector interface
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.bufferFillRatio.Describe(ch)
	m.bufferBytes.Describe(ch)
	m.bufferChunks.Describe(ch)
	m.bufferEvictedTotal.Describe(ch)
	m.bytesWrittenTotal.Describe(ch)
	m.chunksWrittenTotal.Describe(ch)
	m.bytesReadTotal.Describe(ch)
	m.gateOpen.Describe(ch)
	m.gateTransitionTotal.Describe(ch)
	m.sessionsActive.Describe(ch)
	m.sessionsTotal.Describe(ch)
	m.sessionDuration.Describe(ch)
	m.cursorSkipsTotal.Describe(ch)
	m.skippedChunksTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	m.bufferFillRatio.Collect(ch)
	m.bufferBytes.Collect(ch)
	m.bufferChunks.Collect(ch)
	m.bufferEvictedTotal.Collect(ch)
	m.bytesWrittenTotal.Collect(ch)
	m.chunksWrittenTotal.Collect(ch)
	m.bytesReadTotal.Collect(ch)
	m.gateOpen.Collect(ch)
	m.gateTransitionTotal.Collect(ch)
	m.sessionsActive.Collect(ch)
	m.sessionsTotal.Collect(ch)
	m.sessionDuration.Collect(ch)
	m.cursorSkipsTotal.Collect(ch)
	m.skippedChunksTotal.Collect(ch)
}
