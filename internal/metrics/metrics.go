// Package metrics exposes the prometheus instruments for the triage core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transitions counts user-visible status changes, tagged by transition
	// name (assign, unassign, snooze, unsnooze, resolve, irrelevant,
	// follow_up, follow_up_fired, auto_unassign).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_transitions_total",
		Help: "Action item status transitions.",
	}, []string{"transition"})

	// SideEffectFailures counts best-effort side effects that failed without
	// rolling back the state change.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_side_effect_failures_total",
		Help: "Failed best-effort side effects (notify, index, activity).",
	}, []string{"effect"})

	// IngestDecisions counts how the grouping engine classified inbound
	// messages (rejected, grouped, created, updated).
	IngestDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_ingest_decisions_total",
		Help: "Ingestion engine decisions for inbound chat messages.",
	}, []string{"decision"})

	// SweepItems counts sweep outcomes per sweep name.
	SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_sweep_items_total",
		Help: "Items acted on (or skipped) by scheduler sweeps.",
	}, []string{"sweep", "outcome"})
)

// Handler serves the prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
