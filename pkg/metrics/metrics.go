package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Build metrics
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_builds_total",
			Help: "Total number of observed build outcomes by status",
		},
		[]string{"status"},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipewatch_build_duration_seconds",
			Help:    "Build duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	PipelinesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewatch_pipelines_active",
			Help: "Number of pipelines reported by the CI server in the last cycle",
		},
	)

	// Store metrics
	PipelinesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewatch_pipelines_stored",
			Help: "Number of pipeline records in the store",
		},
	)

	FailuresUnresolved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewatch_failures_unresolved",
			Help: "Number of builds whose latest known status is FAILURE",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipewatch_reconciliation_duration_seconds",
			Help:    "Time to complete one reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewatch_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_reconciliation_errors_total",
			Help: "Total number of unit-level reconciliation failures by stage",
		},
		[]string{"stage"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_notifications_total",
			Help: "Total number of notifications sent by channel and result",
		},
		[]string{"channel", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewatch_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipewatch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(PipelinesActive)
	prometheus.MustRegister(PipelinesStored)
	prometheus.MustRegister(FailuresUnresolved)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
