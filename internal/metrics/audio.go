// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AudioBytesReceivedTotal counts raw audio bytes accepted into queues.
	AudioBytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asrhub_audio_bytes_received_total",
		Help: "Total number of raw audio bytes accepted into session queues.",
	})

	// AudioChunksDroppedTotal counts chunks evicted or dropped, by cause.
	AudioChunksDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_audio_chunks_dropped_total",
		Help: "Total number of audio chunks dropped, by cause.",
	}, []string{"cause"})

	// BackpressureSignalsTotal counts emitted backpressure notices by level.
	BackpressureSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_backpressure_signals_total",
		Help: "Total number of backpressure notices emitted, by level.",
	}, []string{"level"})

	// PipelineBranchFailuresTotal counts operator branch failures by branch.
	PipelineBranchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_pipeline_branch_failures_total",
		Help: "Total number of pipeline operator branch failures, by branch.",
	}, []string{"branch"})

	// ConversionSeconds observes per-chunk format conversion latency.
	ConversionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asrhub_conversion_seconds",
		Help:    "Per-chunk audio format conversion latency.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	// WakeTriggersTotal counts wake-word detections by source.
	WakeTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_wake_triggers_total",
		Help: "Total number of wake activations, by source.",
	}, []string{"source"})
)
