// Package metrics holds the engine's own Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Refresh: local poll outcomes
	PollTotal *prometheus.CounterVec

	// Stream: snapshots delivered and failures per collection
	StreamSnapshots *prometheus.CounterVec
	StreamErrors    *prometheus.CounterVec

	// Compliance: per-operation fraction and the aggregate percentage
	OperationCompliance *prometheus.GaugeVec
	CompliancePercent   prometheus.Gauge

	// Store: documents written through ingest and removed by retention
	IngestedDocuments *prometheus.CounterVec
	PrunedDocuments   *prometheus.CounterVec

	// API latency
	RequestDuration *prometheus.HistogramVec

	// Saturation: circuit breaker in front of the Prometheus source (0 closed, 1 half-open, 2 open)
	CircuitBreakerState *prometheus.GaugeVec
}

// New registers the engine metrics on reg. A nil reg gets a private
// registry that is never exposed.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PollTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_local_polls_total",
			Help: "Local snapshot polls by result.",
		}, []string{"result"}),

		StreamSnapshots: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_stream_snapshots_total",
			Help: "Result sets delivered by document stream subscriptions.",
		}, []string{"collection"}),

		StreamErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_stream_errors_total",
			Help: "Document stream subscription failures.",
		}, []string{"collection"}),

		OperationCompliance: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_operation_compliance_ratio",
			Help: "Weighted SLO compliance per operation (0-1).",
		}, []string{"operation"}),

		CompliancePercent: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "aegis_compliance_percent",
			Help: "Share of operations with data that meet every target.",
		}),

		IngestedDocuments: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ingested_documents_total",
			Help: "Documents accepted by the ingest API.",
		}, []string{"collection"}),

		PrunedDocuments: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_pruned_documents_total",
			Help: "Documents removed by retention.",
		}, []string{"collection"}),

		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_http_request_duration_seconds",
			Help:    "Histogram of API request latencies.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"route", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_circuit_breaker_state",
			Help: "Circuit breaker state of an upstream (0=closed, 1=half-open, 2=open).",
		}, []string{"upstream"}),
	}
}
