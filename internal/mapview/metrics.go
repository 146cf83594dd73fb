package mapview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionmap_reconcile_passes_total",
		Help: "Reconciliation passes by outcome (applied, stale, dropped)",
	}, []string{"result"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessionmap_reconcile_apply_duration_seconds",
		Help:    "Time spent applying a marker diff",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	markerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionmap_marker_ops_total",
		Help: "Marker operations applied to rendering surfaces",
	}, []string{"op"})

	leafFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionmap_leaf_fetch_failures_total",
		Help: "Cluster leaf fetches that failed and were skipped",
	})

	viewsMounted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionmap_views_mounted",
		Help: "Map views currently mounted",
	})
)
