package nodelib

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Start outcomes recorded by Metrics.StartAttempt.
const (
	StartOutcomeStarted         = "started"
	StartOutcomeAlreadyRunning  = "already_running"
	StartOutcomeInvalidArgument = "invalid_argument"
	StartOutcomeBinaryMissing   = "binary_missing"
	StartOutcomeError           = "error"
)

// Metrics receives supervisor events.
type Metrics interface {
	StatusChanged(from, to Status)
	StartAttempt(outcome string)
	StopAttempt(signaled bool)
	ProvisionResult(artifact string, err error)
}

type noopMetrics struct{}

func (noopMetrics) StatusChanged(Status, Status) {}
func (noopMetrics) StartAttempt(string) {}
func (noopMetrics) StopAttempt(bool) {}
func (noopMetrics) ProvisionResult(string, error) {}

var allStatuses = []Status{StatusNotRunning, StatusRunning, StatusBinaryMissing, StatusError}

// PrometheusMetrics implements Metrics on a private Prometheus registry.
type PrometheusMetrics struct {
	status      *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	starts      *prometheus.CounterVec
	stops       *prometheus.CounterVec
	provisions  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates the collector. An empty namespace defaults to "node_supervisor".
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "node_supervisor"
	}

	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
	}

	pm.status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Current supervisor status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	pm.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of supervisor status transitions",
		},
		[]string{"from", "to"},
	)

	pm.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "starts_total",
			Help:      "Total number of start requests by outcome",
		},
		[]string{"outcome"},
	)

	pm.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Total number of stop requests by whether a signal was delivered",
		},
		[]string{"signaled"},
	)

	pm.provisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binary_resolutions_total",
			Help:      "Total number of binary locate/provision attempts by artifact and outcome",
		},
		[]string{"artifact", "outcome"},
	)

	pm.registry.MustRegister(pm.status, pm.transitions, pm.starts, pm.stops, pm.provisions)

	for _, s := range allStatuses {
		pm.status.WithLabelValues(s.String()).Set(0)
	}
	pm.status.WithLabelValues(StatusNotRunning.String()).Set(1)

	return pm
}

// StatusChanged implements Metrics.
func (pm *PrometheusMetrics) StatusChanged(from, to Status) {
	pm.transitions.WithLabelValues(from.String(), to.String()).Inc()
	for _, s := range allStatuses {
		value := 0.0
		if s == to {
			value = 1
		}
		pm.status.WithLabelValues(s.String()).Set(value)
	}
}

// StartAttempt implements Metrics.
func (pm *PrometheusMetrics) StartAttempt(outcome string) {
	pm.starts.WithLabelValues(outcome).Inc()
}

// StopAttempt implements Metrics.
func (pm *PrometheusMetrics) StopAttempt(signaled bool) {
	pm.stops.WithLabelValues(strconv.FormatBool(signaled)).Inc()
}

// ProvisionResult implements Metrics.
func (pm *PrometheusMetrics) ProvisionResult(artifact string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	pm.provisions.WithLabelValues(artifact, outcome).Inc()
}

// Registry returns the registry holding the supervisor metrics.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
