// Package metrics declares the Prometheus collectors shared by the scheduler,
// the sampling store and the rollers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketpulse"

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Ticks observed by the orchestrator"},
		[]string{"scale", "reason"},
	)
	// TicksSkipped counts ticks whose period did not match the configured
	// period of their scale, which the planner turns into an empty plan.
	TicksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ticks_skipped_total", Help: "Ticks planned to an empty task list"},
		[]string{"scale"},
	)
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "tasks_total", Help: "Executor invocations by outcome"},
		[]string{"type", "status"},
	)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "task_duration_seconds", Help: "Executor latency", Buckets: prometheus.DefBuckets},
		[]string{"type"},
	)
	IngestTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ingest_ticks_total", Help: "Order-book ticks ingested"},
		[]string{"symbol"},
	)
	BucketFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bucket_flushes_total", Help: "Bucket flushes by result"},
		[]string{"result"},
	)
	ForcedCollections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "forced_collections_total", Help: "Collections forced by the window guarantor"},
		[]string{"window"},
	)
	RollerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "roller_runs_total", Help: "Roller invocations by outcome"},
		[]string{"roller", "status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "API requests by route and status code"},
		[]string{"route", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "API latency", Buckets: prometheus.DefBuckets},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TicksSkipped,
		TasksTotal,
		TaskDuration,
		IngestTicks,
		BucketFlushes,
		ForcedCollections,
		RollerRuns,
		HTTPRequests,
		HTTPDuration,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
