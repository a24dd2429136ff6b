// Package observability provides Prometheus metrics and process statistics for the
// turntable streamer. Sentry error reporting lives in the errors package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/turntable-streamer/internal/logger"
	"github.com/tphakala/turntable-streamer/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Stream   *metrics.StreamMetrics
	Capture  *metrics.CaptureMetrics
}

// NewMetrics creates a registry with the runtime collectors and every application
// collector registered. Each call returns an independent registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	streamMetrics, err := metrics.NewStreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream metrics: %w", err)
	}

	captureMetrics, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Stream:   streamMetrics,
		Capture:  captureMetrics,
	}, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: GetLogger()},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger routes promhttp errors to the structured logger
type promLogger struct {
	log logger.Logger
}

func (l promLogger) Println(v ...any) {
	l.log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
