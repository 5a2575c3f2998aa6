package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics.
// Labels are per role rather than per instance to keep cardinality bounded
// when tests create thousands of short-lived instances.
type PrometheusMetricsCollector struct {
	stateTransitions *prometheus.CounterVec
	startDuration    *prometheus.HistogramVec
	stopDuration     *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	outputLines      *prometheus.CounterVec
	ready            *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "embedded_redis"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_state_transitions_total",
			Help:      "Total number of instance state transitions",
		},
		[]string{"role", "from_state", "to_state"},
	)

	pmc.startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_start_duration_seconds",
			Help:      "Time from launch until the readiness line was observed",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"role", "status"},
	)

	pmc.stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_stop_duration_seconds",
			Help:      "Time to terminate and reap an instance",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	pmc.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_errors_total",
			Help:      "Total number of instance errors",
		},
		[]string{"role", "error_type"},
	)

	pmc.outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_output_lines_total",
			Help:      "Total number of output lines drained from instances",
		},
		[]string{"role", "stream"},
	)

	pmc.ready = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_ready",
			Help:      "Number of instances currently in the Ready state",
		},
		[]string{"role"},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.startDuration,
		pmc.stopDuration,
		pmc.errors,
		pmc.outputLines,
		pmc.ready,
	)

	return pmc
}

// InstanceStateTransition records a state transition
func (pmc *PrometheusMetricsCollector) InstanceStateTransition(role string, fromState, toState State) {
	pmc.stateTransitions.WithLabelValues(role, fromState.String(), toState.String()).Inc()

	if toState == StateReady {
		pmc.ready.WithLabelValues(role).Inc()
	}
	if fromState == StateReady && toState != StateReady {
		pmc.ready.WithLabelValues(role).Dec()
	}
}

// InstanceStartDuration records start latency
func (pmc *PrometheusMetricsCollector) InstanceStartDuration(role string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pmc.startDuration.WithLabelValues(role, status).Observe(duration.Seconds())
}

// InstanceStopDuration records stop latency
func (pmc *PrometheusMetricsCollector) InstanceStopDuration(role string, duration time.Duration) {
	pmc.stopDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// InstanceError records an error
func (pmc *PrometheusMetricsCollector) InstanceError(role string, errorType string) {
	pmc.errors.WithLabelValues(role, errorType).Inc()
}

// OutputLine records a drained output line
func (pmc *PrometheusMetricsCollector) OutputLine(role string, stream string) {
	pmc.outputLines.WithLabelValues(role, stream).Inc()
}

// Registry returns the Prometheus registry for this collector
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}
