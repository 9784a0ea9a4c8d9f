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

// Metrics provides Prometheus metrics for cfdeploy. A nil *Metrics and a
// disabled one both accept every Record call and do nothing.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploymentsStarted   prometheus.Counter
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec
	activeDeployments    prometheus.Gauge

	// Step metrics
	stepInvocations *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	stepTimeouts    *prometheus.CounterVec

	// Platform metrics
	platformCalls    *prometheus.CounterVec
	platformDuration *prometheus.HistogramVec
	platformErrors   *prometheus.CounterVec

	// Client cache metrics
	clientCache *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

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

		deploymentsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployments started",
			},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployments completed",
			},
			[]string{"status"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeDeployments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deployments",
				Help:      "Current number of deployments being driven",
			},
		),

		stepInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_invocations_total",
				Help:      "Total number of step invocations by resulting phase",
			},
			[]string{"kind", "phase"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_invocation_duration_seconds",
				Help:      "Duration of a single step invocation in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		stepTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_timeouts_total",
				Help:      "Total number of steps that exhausted their time budget",
			},
			[]string{"kind"},
		),

		platformCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_calls_total",
				Help:      "Total number of controller API calls",
			},
			[]string{"operation"},
		),
		platformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_call_duration_seconds",
				Help:      "Duration of controller API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		platformErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_errors_total",
				Help:      "Total number of failed controller API calls",
			},
			[]string{"operation"},
		),

		clientCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_cache_events_total",
				Help:      "Client registry cache events (hit, miss, create, evict)",
			},
			[]string{"event"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of step errors by class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.activeDeployments,
		m.stepInvocations,
		m.stepDuration,
		m.stepTimeouts,
		m.platformCalls,
		m.platformDuration,
		m.platformErrors,
		m.clientCache,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Deployment Metrics

// RecordDeploymentStarted increments the started counter and the active gauge.
func (m *Metrics) RecordDeploymentStarted() {
	if !m.enabled() {
		return
	}
	m.deploymentsStarted.Inc()
	m.activeDeployments.Inc()
}

// RecordDeploymentCompleted records a finished deployment with its status and duration.
func (m *Metrics) RecordDeploymentCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// Step Metrics

// RecordStepInvocation records one step invocation and the phase it landed in.
func (m *Metrics) RecordStepInvocation(kind, phase string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepInvocations.WithLabelValues(kind, phase).Inc()
	m.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStepTimeout records a step that exhausted its time budget.
func (m *Metrics) RecordStepTimeout(kind string) {
	if !m.enabled() {
		return
	}
	m.stepTimeouts.WithLabelValues(kind).Inc()
}

// Platform Metrics

// RecordPlatformCall records a controller call with its duration and outcome.
func (m *Metrics) RecordPlatformCall(operation string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	m.platformCalls.WithLabelValues(operation).Inc()
	m.platformDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.platformErrors.WithLabelValues(operation).Inc()
	}
}

// Client Cache Metrics

// Client cache event labels.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheCreate = "create"
	CacheEvict  = "evict"
)

// RecordClientCache records a client registry cache event.
func (m *Metrics) RecordClientCache(event string) {
	if !m.enabled() {
		return
	}
	m.clientCache.WithLabelValues(event).Inc()
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if !m.enabled() || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Gather exposes the underlying registry for tests and embedding hosts.
func (m *Metrics) Gather() (prometheus.Gatherer, bool) {
	if !m.enabled() {
		return nil, false
	}
	return m.registry, true
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.enabled() {
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
