package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the convergence engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Play metrics
	playsExecuted *prometheus.CounterVec
	playDuration  *prometheus.HistogramVec

	// Action metrics
	actionsEvaluated *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec

	// Handler metrics
	handlersFired *prometheus.CounterVec

	// Transport metrics
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of convergence runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		playsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plays_executed_total",
				Help:      "Total number of plays executed",
			},
			[]string{"status"},
		),
		playDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "play_duration_seconds",
				Help:      "Duration of play execution in seconds",
				Buckets:   buckets,
			},
			[]string{"play"},
		),
		actionsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_evaluated_total",
				Help:      "Total number of action evaluations by outcome",
			},
			[]string{"capability", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"capability"},
		),
		handlersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handlers_fired_total",
				Help:      "Total number of handler firings by outcome",
			},
			[]string{"outcome"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of external provider calls",
			},
			[]string{"capability", "phase"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of external provider errors",
			},
			[]string{"capability", "phase"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of convergence runs currently executing",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.playsExecuted, m.playDuration,
		m.actionsEvaluated, m.actionDuration,
		m.handlersFired,
		m.providerCalls, m.providerErrors,
		m.activeRuns,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunCompleted records the completion of a run.
func (m *Metrics) RunCompleted(status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// PlayExecuted records a completed play.
func (m *Metrics) PlayExecuted(play, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.playsExecuted.WithLabelValues(status).Inc()
	m.playDuration.WithLabelValues(play).Observe(duration.Seconds())
}

// ActionEvaluated records one action evaluation.
func (m *Metrics) ActionEvaluated(capability, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.actionsEvaluated.WithLabelValues(capability, outcome).Inc()
	m.actionDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// HandlerFired records one handler firing.
func (m *Metrics) HandlerFired(outcome string) {
	if m.registry == nil {
		return
	}
	m.handlersFired.WithLabelValues(outcome).Inc()
}

// ProviderCall records an external provider call.
func (m *Metrics) ProviderCall(capability, phase string, err error) {
	if m.registry == nil {
		return
	}
	m.providerCalls.WithLabelValues(capability, phase).Inc()
	if err != nil {
		m.providerErrors.WithLabelValues(capability, phase).Inc()
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. Blocks until the server stops.
func (m *Metrics) Serve() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
