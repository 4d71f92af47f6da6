/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skuldsync"

// Scheduler metrics.
var (
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_ticks_total",
		Help:      "Total scheduler tick evaluations.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_errors_total",
		Help:      "Scheduler-internal errors, by task and reason.",
	}, []string{"task", "reason"})

	TasksFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_fired_total",
		Help:      "Total scheduled tasks fired, by operation.",
	}, []string{"operation"})

	TasksSkippedBusyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_skipped_busy_total",
		Help:      "Due ticks dropped because the task was still running.",
	}, []string{"operation"})

	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_runs_total",
		Help:      "Completed task runs, by operation and outcome.",
	}, []string{"operation", "outcome"})

	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task run duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"operation"})
)

// Reconciliation metrics.
var (
	ItemsAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_added_total",
		Help:      "Catalog items added, by operation.",
	}, []string{"operation"})

	ItemsRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_removed_total",
		Help:      "Catalog items removed, by operation.",
	}, []string{"operation"})

	ItemsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_skipped_total",
		Help:      "Catalog items skipped by filters, by operation.",
	}, []string{"operation"})

	SnapshotItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_items",
		Help:      "Items held in the stored snapshot, by instance and media kind.",
	}, []string{"instance", "kind"})

	ReleasesCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "releases_captured_total",
		Help:      "Release history events captured, by instance.",
	}, []string{"instance"})

	ReleasesPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "releases_pushed_total",
		Help:      "Release grabs re-pushed during restore, by instance.",
	}, []string{"instance"})
)

// Instance health metrics.
var (
	InstanceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "instance_up",
		Help:      "Whether the catalog instance answered its last health probe (1 up, 0 down).",
	}, []string{"instance"})

	InstancePingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "instance_ping_duration_seconds",
		Help:      "Health probe round-trip time, by instance.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"instance"})
)

// API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests served by the ops API.",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests.",
	})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database query duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Database errors, by operation.",
	}, []string{"operation"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open database connections.",
	})
)

// Archive metrics.
var (
	ArchiveExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_exports_total",
		Help:      "Snapshot archive exports, by backend and outcome.",
	}, []string{"backend", "outcome"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
