/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soundwave_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soundwave_api_requests_total",
		Help: "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soundwave_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Database metrics, fed by the GORM callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soundwave_db_query_duration_seconds",
		Help:    "Database query latency by operation and table.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soundwave_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soundwave_db_connections_active",
		Help: "Open database connections.",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soundwave_db_connections_idle",
		Help: "Idle database connections.",
	})
)

// Domain metrics.
var (
	RadioSelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soundwave_radio_selections_total",
		Help: "Radio next-track selections by mode.",
	}, []string{"mode"})

	PlaylistEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soundwave_playlist_evaluations_total",
		Help: "Smart playlist evaluations.",
	})

	IngestJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soundwave_ingest_jobs_total",
		Help: "Ingest jobs by terminal status.",
	}, []string{"status"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soundwave_websocket_clients",
		Help: "Connected event stream clients.",
	})

	LeaderStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "soundwave_leader_status",
		Help: "1 while this instance holds the leadership lease.",
	}, []string{"instance"})

	LeaderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soundwave_leader_transitions_total",
		Help: "Leadership acquisitions and losses.",
	}, []string{"instance", "transition"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
