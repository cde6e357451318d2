// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsDispatchedTotal counts dispatched actions by type.
	ActionsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_actions_dispatched_total",
		Help: "Total number of dispatched actions, by type.",
	}, []string{"type"})

	// ActionsDroppedTotal counts actions dropped before reaching the reducer, by reason.
	ActionsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_actions_dropped_total",
		Help: "Total number of dropped actions, by reason.",
	}, []string{"reason"})

	// EventsDroppedTotal counts subscriber events dropped due to slow consumers.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_events_dropped_total",
		Help: "Total number of subscriber events dropped, by event type.",
	}, []string{"type"})

	// ActionQueueDepth tracks the current reducer inbox depth.
	ActionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asrhub_action_queue_depth",
		Help: "Current number of actions waiting for the reducer.",
	})
)

// IncActionDropReason increments the dropped-action counter.
func IncActionDropReason(reason string) {
	ActionsDroppedTotal.WithLabelValues(reason).Inc()
}
