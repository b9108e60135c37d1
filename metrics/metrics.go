package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagram_gateway_calls_total",
			Help: "Model calls by backend, stage and outcome (ok, truncated, failed)",
		},
		[]string{"backend", "stage", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagram_gateway_call_duration_seconds",
			Help:    "Duration of a single model call in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"backend", "stage"},
	)

	Refinements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagram_refinements_total",
			Help: "Refinement calls issued after a failed validation",
		},
		[]string{"mode"},
	)

	RunOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagram_runs_total",
			Help: "Finished runs by mode and outcome (valid, exhausted, stopped, failed)",
		},
		[]string{"mode", "outcome"},
	)

	ConversionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagram_conversions_active",
			Help: "Conversions currently running",
		},
	)
)
