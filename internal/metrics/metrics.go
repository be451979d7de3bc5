// Package metrics defines the Prometheus collectors the pool core
// updates for every counter named in spec §3 and rolled up by the
// sampling component (spec §4.5).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsOpened counts physical connections created on demand by
	// Acquire's expand path; connections opened to reach pool_min are not
	// counted.
	ConnectionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_connections_opened_total",
		Help: "Physical connections created on demand by acquire, per pool",
	}, []string{"pool"})

	// ConnectionsServed counts acquires that returned successfully.
	ConnectionsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_connections_served_total",
		Help: "Acquires that returned a connection successfully",
	}, []string{"pool"})

	// ConnectionsRejected counts failed acquires by reason.
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_connections_rejected_total",
		Help: "Failed acquires by reason",
	}, []string{"pool", "reason"}) // reason: full | timeout | other

	// ConnectionFailures counts driver-level failures while opening a connection.
	ConnectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_connection_failures_total",
		Help: "Driver failures while opening a physical connection",
	}, []string{"pool"})

	// ConnectionLeaks counts connections reclaimed by leak detection.
	ConnectionLeaks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_connection_leaks_total",
		Help: "Connections reclaimed after exceeding max_open_time unreleased",
	}, []string{"pool"})

	// ValidationFailures counts connections destroyed by a failed validation probe.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_validation_failures_total",
		Help: "Connections discarded after failing validation on acquire",
	}, []string{"pool"})

	// StatementsEvicted counts statement-cache evictions.
	StatementsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_statements_evicted_total",
		Help: "Closed prepared statements evicted from a connection's cache",
	}, []string{"pool"})

	// StatementsReused counts cache hits.
	StatementsReused = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapool_statements_reused_total",
		Help: "Prepared statement cache hits",
	}, []string{"pool"})

	// Active/idle/waiters gauges, current snapshot.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_connections_active",
		Help: "Connections currently held (hold count > 0)",
	}, []string{"pool"})

	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_connections_idle",
		Help: "Connections currently in the free set",
	}, []string{"pool"})

	ConnectionsAll = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_connections_all",
		Help: "Total connections owned by the pool (idle + active)",
	}, []string{"pool"})

	CurrentWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_waiters_current",
		Help: "Callers currently parked awaiting a connection",
	}, []string{"pool"})

	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xapool_wait_seconds",
		Help:    "Time spent waiting for a connection in acquire",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// ── "Recent" sampling snapshots (spec §4.5) ─────────────────────

	WaitingHigh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_waiting_time_high_seconds",
		Help: "All-time high of cumulative waiting time within a sampling period",
	}, []string{"pool"})

	WaitingHighRecent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_waiting_time_high_recent_seconds",
		Help: "Cumulative waiting time observed in the most recently closed sampling period",
	}, []string{"pool"})

	WaitersHigh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_waiters_high",
		Help: "All-time high of the waiter count within a sampling period",
	}, []string{"pool"})

	WaitersHighRecent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_waiters_high_recent",
		Help: "Waiter count observed in the most recently closed sampling period",
	}, []string{"pool"})

	BusyMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_busy_max",
		Help: "Busy-connection count at the last sampling rollup, where the new period's high water mark starts",
	}, []string{"pool"})

	BusyMaxRecent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_busy_max_recent",
		Help: "Busy-connection high water mark in the most recently closed sampling period",
	}, []string{"pool"})

	BusyMin = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_busy_min",
		Help: "Busy-connection count at the last sampling rollup, where the new period's low water mark starts",
	}, []string{"pool"})

	BusyMinRecent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapool_busy_min_recent",
		Help: "Busy-connection low water mark in the most recently closed sampling period",
	}, []string{"pool"})
)
