// Package metrics holds the Prometheus collectors of the safety core.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safety"

var (
	EvaluationCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluation_cycles_total",
		Help:      "Rule evaluation cycles by outcome (ok, degraded).",
	}, []string{"outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_cycle_seconds",
		Help:      "Wall time of one rule evaluation cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	AlertDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_decisions_total",
		Help:      "Deduplication decisions by kind and decision.",
	}, []string{"kind", "decision"})

	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_deleted_total",
		Help:      "Alerts removed by cleanup, by pass (expired, duplicate).",
	}, []string{"pass"})

	CleanupAborted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_aborted_total",
		Help:      "Cleanup runs aborted because the safety cap was exceeded.",
	})

	BCMAVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bcma_verifications_total",
		Help:      "BCMA verifications by result (valid, warning, rejected).",
	}, []string{"result"})

	BCMAAdministrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bcma_administrations_total",
		Help:      "Administration attempts by outcome.",
	}, []string{"outcome"})
)

// Handler exposes the default registry on an echo route.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
