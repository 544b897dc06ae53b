package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// WorkflowMetrics implements ports.WorkflowObserver and ports.RequestObserver.
type WorkflowMetrics struct {
	registry *prometheus.Registry
	service  string

	transitionsTotal *prometheus.CounterVec
	staleTotal       *prometheus.CounterVec
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
}

func NewWorkflowMetrics(service string) *WorkflowMetrics {
	registry := prometheus.NewRegistry()

	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow state transitions.",
		},
		[]string{"service", "from", "to"},
	)
	staleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "workflow",
			Name:      "stale_completions_total",
			Help:      "Remote completions discarded because their cycle was superseded.",
		},
		[]string{"service", "operation"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Requests sent to the atlas service by status.",
		},
		[]string{"service", "operation", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Atlas service request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "operation"},
	)
	inFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "workflow",
			Name:      "in_flight_operations",
			Help:      "Upload or processing calls currently awaiting a response, superseded ones included.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(transitionsTotal, staleTotal, requestTotal, requestDuration, inFlight)

	return &WorkflowMetrics{
		registry:         registry,
		service:          service,
		transitionsTotal: transitionsTotal,
		staleTotal:       staleTotal,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		inFlight:         inFlight,
	}
}

func (m *WorkflowMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkflowMetrics) ObserveTransition(from, to domain.WorkflowState) {
	if from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(m.service, from.String(), to.String()).Inc()
}

func (m *WorkflowMetrics) ObserveCallStarted(operation string) {
	m.inFlight.WithLabelValues(m.service, operationLabel(operation)).Inc()
}

func (m *WorkflowMetrics) ObserveCallFinished(operation string) {
	m.inFlight.WithLabelValues(m.service, operationLabel(operation)).Dec()
}

func (m *WorkflowMetrics) ObserveStaleCompletion(operation string) {
	m.staleTotal.WithLabelValues(m.service, operationLabel(operation)).Inc()
}

func (m *WorkflowMetrics) ObserveRequest(operation string, duration time.Duration, err error) {
	operation = operationLabel(operation)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requestTotal.WithLabelValues(m.service, operation, status).Inc()
	m.requestDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
}

func operationLabel(operation string) string {
	if operation == "" {
		return "unknown"
	}
	return operation
}
