// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return counterValue(t, vec.WithLabelValues(labels...))
}

func TestRecordTransition(t *testing.T) {
	before := counterVecValue(t, StateTransitionsTotal, "STREAMING", "RECORDING")
	RecordTransition("STREAMING", "RECORDING")
	RecordTransition("STREAMING", "RECORDING")
	require.Equal(t, before+2, counterVecValue(t, StateTransitionsTotal, "STREAMING", "RECORDING"))
}

func TestRecordInvalidTransition(t *testing.T) {
	before := counterVecValue(t, InvalidTransitionsTotal, "BATCH", "WAKE")
	RecordInvalidTransition("BATCH", "WAKE")
	require.Equal(t, before+1, counterVecValue(t, InvalidTransitionsTotal, "BATCH", "WAKE"))
}

func TestRecordSessionError(t *testing.T) {
	before := counterVecValue(t, SessionErrorsTotal, "provider_error")
	RecordSessionError("provider_error")
	require.Equal(t, before+1, counterVecValue(t, SessionErrorsTotal, "provider_error"))
}

func TestIncActionDropReason(t *testing.T) {
	before := counterVecValue(t, ActionsDroppedTotal, "inbox_full")
	IncActionDropReason("inbox_full")
	require.Equal(t, before+1, counterVecValue(t, ActionsDroppedTotal, "inbox_full"))
}

func TestSnapshotsArchivedCounter(t *testing.T) {
	before := counterValue(t, SnapshotsArchivedTotal)
	SnapshotsArchivedTotal.Inc()
	require.Equal(t, before+1, counterValue(t, SnapshotsArchivedTotal))
}
