package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/turntable-streamer/internal/capture"
)

// CaptureMetrics tracks the capture supervisor
type CaptureMetrics struct {
	registry *prometheus.Registry

	restartsTotal prometheus.Counter
	state         *prometheus.GaugeVec
}

// NewCaptureMetrics creates and registers the capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turntable_capture_restarts_total",
		Help: "Capture source restarts after the first open",
	})
	m.state = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turntable_capture_state",
			Help: "1 for the current capture supervisor state, 0 for every other state",
		},
		[]string{"state"},
	)
	m.setState(capture.StateIdle)
}

func (m *CaptureMetrics) setState(current capture.State) {
	for _, s := range capture.States {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

// CaptureStateChanged implements capture.Observer
func (m *CaptureMetrics) CaptureStateChanged(_, to capture.State) {
	m.setState(to)
}

// CaptureRestarted implements capture.Observer
func (m *CaptureMetrics) CaptureRestarted() {
	m.restartsTotal.Inc()
}

// Describe implements the prometheus.Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.restartsTotal.Describe(ch)
	m.state.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.restartsTotal.Collect(ch)
	m.state.Collect(ch)
}
