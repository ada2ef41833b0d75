package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus instruments of the ingestion path.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	MessagesSkipped   prometheus.Counter
	RecordsSaved      prometheus.Counter
	RecordsDeleted    prometheus.Counter
	StoreErrors       prometheus.Counter
	QueueDepth        prometheus.Gauge
	PagesFetched      *prometheus.CounterVec
	FetchErrors       *prometheus.CounterVec
	ScanDuration      *prometheus.HistogramVec
	ScansCoalesced    prometheus.Counter
	ObserverDropped   prometheus.Counter
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_messages_processed_total",
			Help: "Messages handed to the extraction workers.",
		}),
		MessagesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_messages_skipped_total",
			Help: "Messages that produced no record.",
		}),
		RecordsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_records_saved_total",
			Help: "Records written by the store writer.",
		}),
		RecordsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_records_deleted_total",
			Help: "Delete operations applied by the store writer.",
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_store_errors_total",
			Help: "Failed store operations.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "modlogs_write_queue_depth",
			Help: "Operations waiting for the store writer.",
		}),
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modlogs_pages_fetched_total",
			Help: "History pages fetched, by scan direction.",
		}, []string{"direction"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modlogs_fetch_errors_total",
			Help: "Failed history fetches, by scan direction.",
		}, []string{"direction"}),
		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modlogs_scan_duration_seconds",
			Help:    "Duration of channel scans.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
		ScansCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_scans_coalesced_total",
			Help: "Scan triggers folded into a scan already running.",
		}),
		ObserverDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "modlogs_observer_events_dropped_total",
			Help: "Record events dropped because observers fell behind.",
		}),
	}
}
