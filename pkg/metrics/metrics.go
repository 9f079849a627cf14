// Package metrics defines the Prometheus instruments shared across the
// service. Registration happens at package load via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the API.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Outbound fetch attempts, including retries.",
		},
		[]string{"outcome"}, // success, retryable, permanent, rate_limited
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of a full fetch including its retry loop.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	ScrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapes_total",
			Help: "Per-URL scrape outcomes.",
		},
		[]string{"kind", "status"}, // status: success, failure
	)

	ReconcileRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_rows_total",
			Help: "Rows written by reconciliation, split by operation.",
		},
		[]string{"op"}, // updated, inserted, skipped_duplicate
	)

	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrape_workers_busy",
			Help: "Workers currently executing a scrape task.",
		},
	)

	ProxiesWorking = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxies_working",
			Help: "Proxy endpoints that passed their last liveness probe.",
		},
	)
)
