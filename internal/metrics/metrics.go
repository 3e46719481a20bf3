// Package metrics provides Prometheus metrics for the ingestion and query pipelines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsProcessedTotal *prometheus.CounterVec
	ProcessingDuration      *prometheus.HistogramVec
	IngestQueueDepth        prometheus.Gauge

	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	DependencyCallsTotal   *prometheus.CounterVec
	DependencyCallDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DocumentsProcessedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_documents_processed_total",
				Help: "Total number of document processing attempts by outcome",
			},
			[]string{"status"},
		),
		ProcessingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dossier_document_processing_duration_seconds",
				Help:    "Duration of document processing attempts in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		IngestQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "dossier_ingest_queue_depth",
				Help: "Number of documents waiting in the ingestion queue",
			},
		),

		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_queries_total",
				Help: "Total number of answered questions by prompt style and outcome",
			},
			[]string{"style", "status"},
		),
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dossier_query_duration_seconds",
				Help:    "End-to-end duration of question answering in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"style"},
		),

		DependencyCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_dependency_calls_total",
				Help: "Total number of calls to external dependencies",
			},
			[]string{"dependency", "operation", "status"},
		),
		DependencyCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dossier_dependency_call_duration_seconds",
				Help:    "Duration of calls to external dependencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dependency", "operation"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDocumentProcessed records one finished processing attempt.
func (m *Metrics) RecordDocumentProcessed(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DocumentsProcessedTotal.WithLabelValues(status).Inc()
	m.ProcessingDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetQueueDepth reports the current ingestion backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.IngestQueueDepth.Set(float64(n))
}

// RecordQuery records one answered or failed question.
func (m *Metrics) RecordQuery(style, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(style, status).Inc()
	m.QueryDuration.WithLabelValues(style).Observe(duration.Seconds())
}

// RecordDependencyCall records one call to the vector store, search index, storage or generation service.
func (m *Metrics) RecordDependencyCall(dependency, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DependencyCallsTotal.WithLabelValues(dependency, operation, status).Inc()
	m.DependencyCallDuration.WithLabelValues(dependency, operation).Observe(duration.Seconds())
}
