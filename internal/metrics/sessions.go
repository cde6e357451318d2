// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the asrhub control plane.
// Constraint: no cardinality explosion (no session_id, request_id in labels).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreatedTotal counts created sessions by strategy.
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_sessions_created_total",
		Help: "Total number of created sessions, by strategy.",
	}, []string{"strategy"})

	// SessionsRejectedTotal counts admission rejections by reason.
	SessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_sessions_rejected_total",
		Help: "Total number of rejected session creations, by reason.",
	}, []string{"reason"})

	// SessionsDestroyedTotal counts destroyed sessions.
	SessionsDestroyedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asrhub_sessions_destroyed_total",
		Help: "Total number of destroyed sessions.",
	})

	// ActiveSessions tracks current live sessions by strategy.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "asrhub_active_sessions",
		Help: "Current number of live sessions, by strategy.",
	}, []string{"strategy"})

	// StateTransitionsTotal counts FSM transitions by strategy and target state.
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_state_transitions_total",
		Help: "Total number of FSM transitions, by strategy and target state.",
	}, []string{"strategy", "to"})

	// InvalidTransitionsTotal counts events that had no entry in the strategy table.
	InvalidTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_invalid_transitions_total",
		Help: "Total number of events without a valid FSM transition, by strategy and event.",
	}, []string{"strategy", "event"})

	// SessionErrorsTotal counts session-scoped errors by error kind.
	SessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_session_errors_total",
		Help: "Total number of session errors, by kind.",
	}, []string{"kind"})

	// TranscriptionsTotal counts finished transcriptions by outcome.
	TranscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_transcriptions_total",
		Help: "Total number of finished transcriptions, by outcome.",
	}, []string{"outcome"})

	// TranscriptionSeconds observes wall-clock transcription duration.
	TranscriptionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asrhub_transcription_seconds",
		Help:    "Wall-clock duration of transcription calls.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// RecordTransition increments the transition counter.
func RecordTransition(strategy, to string) {
	StateTransitionsTotal.WithLabelValues(strategy, to).Inc()
}

// RecordInvalidTransition increments the no-transition counter.
func RecordInvalidTransition(strategy, event string) {
	InvalidTransitionsTotal.WithLabelValues(strategy, event).Inc()
}

// RecordSessionError increments the error counter for the given taxonomy kind.
func RecordSessionError(kind string) {
	SessionErrorsTotal.WithLabelValues(kind).Inc()
}
