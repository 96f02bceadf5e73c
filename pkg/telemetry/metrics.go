package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for validations, rule loading and the
// acceptance gate. A Metrics created with metrics disabled is a no-op.
type Metrics struct {
	config MetricsConfig

	validations        *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	findings           *prometheus.CounterVec
	configErrors       *prometheus.CounterVec

	snapshotsLoaded *prometheus.CounterVec
	ruleLoadErrors  prometheus.Counter

	decisions     *prometheus.CounterVec
	resultsPruned prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of completed validations by verdict",
			},
			[]string{"policy_type", "verdict"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of a validation run in seconds",
				Buckets:   buckets,
			},
			[]string{"policy_type"},
		),
		findings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_total",
				Help:      "Total number of findings by pass and severity",
			},
			[]string{"pass", "severity"},
		),
		configErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "configuration_errors_total",
				Help:      "Total number of validations aborted by configuration errors",
			},
			[]string{"kind"},
		),
		snapshotsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_snapshots_loaded_total",
				Help:      "Total number of rule snapshots published",
			},
			[]string{"source"},
		),
		ruleLoadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_load_errors_total",
				Help:      "Total number of rule reloads rejected",
			},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acceptance_decisions_total",
				Help:      "Total number of acceptance gate decisions",
			},
			[]string{"accepted"},
		),
		resultsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_pruned_total",
				Help:      "Total number of stored validation results pruned by retention",
			},
		),
	}

	registry.MustRegister(
		m.validations,
		m.validationDuration,
		m.findings,
		m.configErrors,
		m.snapshotsLoaded,
		m.ruleLoadErrors,
		m.decisions,
		m.resultsPruned,
	)

	return m, nil
}

// RecordValidation records a completed validation.
func (m *Metrics) RecordValidation(policyType, verdict string, duration time.Duration) {
	if m == nil || m.validations == nil {
		return
	}
	m.validations.WithLabelValues(policyType, verdict).Inc()
	m.validationDuration.WithLabelValues(policyType).Observe(duration.Seconds())
}

// RecordFinding counts one finding.
func (m *Metrics) RecordFinding(pass, severity string) {
	if m == nil || m.findings == nil {
		return
	}
	m.findings.WithLabelValues(pass, severity).Inc()
}

// RecordConfigurationError counts a validation aborted by a configuration error.
func (m *Metrics) RecordConfigurationError(kind string) {
	if m == nil || m.configErrors == nil {
		return
	}
	m.configErrors.WithLabelValues(kind).Inc()
}

// RecordSnapshotLoaded counts a published rule snapshot.
func (m *Metrics) RecordSnapshotLoaded(source string) {
	if m == nil || m.snapshotsLoaded == nil {
		return
	}
	m.snapshotsLoaded.WithLabelValues(source).Inc()
}

// RecordRuleLoadError counts a rejected rule reload.
func (m *Metrics) RecordRuleLoadError() {
	if m == nil || m.ruleLoadErrors == nil {
		return
	}
	m.ruleLoadErrors.Inc()
}

// RecordDecision counts an acceptance gate decision.
func (m *Metrics) RecordDecision(accepted bool) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

// RecordResultsPruned counts stored results removed by retention.
func (m *Metrics) RecordResultsPruned(n int64) {
	if m == nil || m.resultsPruned == nil || n <= 0 {
		return
	}
	m.resultsPruned.Add(float64(n))
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer returns an HTTP server exposing the metrics endpoint, or
// nil when metrics are disabled. The caller owns its lifecycle.
func (m *Metrics) NewMetricsServer() *http.Server {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeMetrics runs srv until it is shut down. http.ErrServerClosed is not an error.
func ServeMetrics(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
