// Package metrics provides Prometheus metrics for syncer pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "syncer"

var (
	// RunsTotal tracks finished pipeline runs by terminal state.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by pipeline and terminal state",
		},
		[]string{"pipeline", "state"},
	)

	// RunDuration tracks the wall clock duration of pipeline runs.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"pipeline"},
	)

	// PagesFetched tracks pages (or single resources) fetched from upstream APIs.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Total number of pages fetched from upstream APIs",
		},
		[]string{"pipeline"},
	)

	// FetchErrors tracks fetch failures by error kind.
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Total number of fetch errors by kind",
		},
		[]string{"pipeline", "kind"},
	)

	// ArchiveFailures tracks raw page archive writes that failed.
	ArchiveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "failures_total",
			Help:      "Total number of raw page archive failures",
		},
		[]string{"pipeline"},
	)

	// RecordsWritten tracks rows upserted into the warehouse.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "records_written_total",
			Help:      "Total number of records upserted into the warehouse",
		},
		[]string{"entity"},
	)

	// RecordsSkipped tracks records dropped because they could not be mapped.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "records_skipped_total",
			Help:      "Total number of records skipped by mapping errors",
		},
		[]string{"entity"},
	)

	// RateLimitWaits tracks the time spent waiting on the rate limiter.
	RateLimitWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent blocked by the outbound rate limiter",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)
)
