// Package metrics exposes prometheus instrumentation for the alert
// detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricepulse",
		Subsystem: "cycle",
		Name:      "total",
		Help:      "Detection cycles by outcome (completed, failed, rejected).",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pricepulse",
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Duration of one full detection cycle.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pricepulse",
		Subsystem: "cycle",
		Name:      "phase_duration_seconds",
		Help:      "Duration of one cycle phase.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"phase"})

	SnapshotAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pricepulse",
		Subsystem: "snapshot",
		Name:      "assets",
		Help:      "Assets with a cache row after the last refresh.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricepulse",
		Subsystem: "alerts",
		Name:      "events_total",
		Help:      "Global alert events emitted by severity.",
	}, []string{"severity"})

	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricepulse",
		Subsystem: "alerts",
		Name:      "triggers_total",
		Help:      "User and watchlist alert firings by source.",
	}, []string{"source"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricepulse",
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Delivery attempts by shape and outcome.",
	}, []string{"shape", "outcome"})
)

// DispatchOutcome converts a delivery success flag into a label value.
func DispatchOutcome(sent bool) string {
	if sent {
		return "sent"
	}
	return "failed"
}
