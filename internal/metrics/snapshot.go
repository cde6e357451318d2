// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SnapshotsArchivedTotal counts terminal session snapshots written to the
// archive.
var SnapshotsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "asrhub_snapshots_archived_total",
	Help: "Total number of terminal session snapshots archived.",
})
