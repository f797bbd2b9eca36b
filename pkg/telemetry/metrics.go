package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for orgsync. It implements
// engine.Metrics; a disabled instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Record operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Drift metrics
	driftDetections *prometheus.CounterVec
	driftedRecords  *prometheus.GaugeVec

	// Scheduling metrics
	missingDependencies *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"phase", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "status"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_operations_total",
				Help:      "Total number of record operations",
			},
			[]string{"resource_type", "action", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_operation_duration_seconds",
				Help:      "Duration of record operations in seconds",
				Buckets:   buckets,
			},
			[]string{"resource_type", "action"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drifted records detected",
			},
			[]string{"resource_type"},
		),
		driftedRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drifted_records",
				Help:      "Number of drifted records found by the last diff of a resource type",
			},
			[]string{"resource_type"},
		),

		missingDependencies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_dependencies_total",
				Help:      "Total number of resource types write-skipped for missing dependencies",
			},
			[]string{"resource_type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.operations,
		m.operationDuration,
		m.driftDetections,
		m.driftedRecords,
		m.missingDependencies,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RecordRun records a completed run with its status and duration.
func (m *Metrics) RecordRun(phase, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(phase, status).Inc()
	m.runDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// RecordOperation records one record operation.
func (m *Metrics) RecordOperation(resourceType, action, outcome string, duration time.Duration) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(resourceType, action, outcome).Inc()
	m.operationDuration.WithLabelValues(resourceType, action).Observe(duration.Seconds())
}

// RecordDrift records the drifted records found for a resource type.
func (m *Metrics) RecordDrift(resourceType string, count int) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(resourceType).Add(float64(count))
	m.driftedRecords.WithLabelValues(resourceType).Set(float64(count))
}

// RecordMissingDependency records a resource type whose writes were skipped.
func (m *Metrics) RecordMissingDependency(resourceType string) {
	if m.missingDependencies == nil {
		return
	}
	m.missingDependencies.WithLabelValues(resourceType).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsServer serves the metrics endpoint until shut down.
type MetricsServer struct {
	server *http.Server
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil
// when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *MetricsServer {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// the run continues without an endpoint
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server failed")
		}
	}()

	logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("serving metrics")
	return &MetricsServer{server: server}
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
