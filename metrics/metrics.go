// Package metrics registriert die Prometheus-Metriken des Dienstes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// UploadsProcessed zählt Aufrufe der asynchronen Phase nach Ergebnis (completed, failed, duplicate, ...).
var (
	UploadsSubmitted  prometheus.Counter
	UploadsProcessed  *prometheus.CounterVec
	RecordsPersisted  prometheus.Counter
	ProcessingSeconds prometheus.Histogram
	StaleUploads      *prometheus.GaugeVec
	StatusCacheHits   prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
)

func init() {
	UploadsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drug_uploads_submitted_total",
			Help: "Total number of CSV uploads accepted for processing.",
		},
	)
	UploadsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drug_uploads_processed_total",
			Help: "Total number of blob notifications handled, by outcome.",
		},
		[]string{"outcome"},
	)
	RecordsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drug_records_persisted_total",
			Help: "Total number of drug records written to the record store.",
		},
	)
	ProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drug_upload_processing_seconds",
			Help:    "Duration of the asynchronous validate-and-persist phase.",
			Buckets: prometheus.DefBuckets,
		},
	)
	StaleUploads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drug_uploads_stale",
			Help: "Number of uploads stuck in pending or processing longer than the configured threshold.",
		},
		[]string{"status"},
	)
	StatusCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drug_upload_status_cache_hits_total",
			Help: "Total number of upload status reads served from the terminal-state cache.",
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drug_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drug_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	prometheus.MustRegister(
		UploadsSubmitted,
		UploadsProcessed,
		RecordsPersisted,
		ProcessingSeconds,
		StaleUploads,
		StatusCacheHits,
		HTTPRequests,
		HTTPRequestDuration,
	)
}
