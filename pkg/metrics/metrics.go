// Package metrics holds the Prometheus collectors of the transfer engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectsTotal counts connect attempts by driver and outcome (ok, invalid, failed).
	connectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whbridge_connects_total",
			Help: "Warehouse connect attempts by driver and outcome",
		},
		[]string{"driver", "outcome"},
	)

	// sessionActive is 1 while a warehouse session is live.
	sessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whbridge_session_active",
			Help: "1 while a warehouse session is connected",
		},
	)

	catalogLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whbridge_catalog_lookups_total",
			Help: "Schema catalog lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	previewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whbridge_preview_duration_seconds",
			Help:    "Preview latency by direction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whbridge_transfers_total",
			Help: "Finished transfers by direction and status",
		},
		[]string{"direction", "status"},
	)

	transfersRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whbridge_transfers_running",
			Help: "Transfers currently running by direction",
		},
		[]string{"direction"},
	)

	rowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whbridge_rows_total",
			Help: "Rows committed (import) or written (export)",
		},
		[]string{"direction"},
	)

	rejectedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whbridge_rejected_rows_total",
			Help: "Import rows rejected by type coercion",
		},
	)
)

func ObserveConnect(driver, outcome string) {
	connectsTotal.WithLabelValues(driver, outcome).Inc()
}

func SetSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
		return
	}
	sessionActive.Set(0)
}

func ObserveCatalog(hit bool) {
	if hit {
		catalogLookups.WithLabelValues("hit").Inc()
		return
	}
	catalogLookups.WithLabelValues("miss").Inc()
}

func ObservePreview(direction string, d time.Duration) {
	previewDuration.WithLabelValues(direction).Observe(d.Seconds())
}

func TransferStarted(direction string) {
	transfersRunning.WithLabelValues(direction).Inc()
}

// TransferFinished records a terminal transfer. status is succeeded, failed or cancelled.
func TransferFinished(direction, status string, rows, rejected int64) {
	transfersRunning.WithLabelValues(direction).Dec()
	transfersTotal.WithLabelValues(direction, status).Inc()
	rowsTotal.WithLabelValues(direction).Add(float64(rows))
	rejectedRowsTotal.Add(float64(rejected))
}
