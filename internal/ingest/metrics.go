package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	filesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_ingest_files_total",
		Help: "Files processed, by final state",
	}, []string{"state"})

	rowsSeenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_ingest_rows_seen_total",
		Help: "Input rows read from committed files",
	})

	rowsLoadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_ingest_rows_loaded_total",
		Help: "Detections inserted by committed files",
	})

	rowsOmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_ingest_rows_omitted_total",
		Help: "Buffered detections skipped as already stored",
	})

	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geo_ingest_flush_duration_seconds",
		Help:    "Time taken to write one batch",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	partitionsEnsured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_ingest_partitions_ensured_total",
		Help: "Monthly partitions ensured (first touch per unit of work)",
	})
)

func init() {
	prometheus.MustRegister(
		filesTotal,
		rowsSeenTotal,
		rowsLoadedTotal,
		rowsOmittedTotal,
		flushDuration,
		partitionsEnsured,
	)
}
