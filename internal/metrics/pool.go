// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolProvidersCreatedTotal counts provider instances created by the pool.
	PoolProvidersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asrhub_pool_providers_created_total",
		Help: "Total number of ASR provider instances created.",
	})

	// PoolProvidersDisposedTotal counts disposed providers by cause.
	PoolProvidersDisposedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_pool_providers_disposed_total",
		Help: "Total number of disposed ASR provider instances, by cause.",
	}, []string{"cause"})

	// PoolLeasesTotal counts lease outcomes.
	PoolLeasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asrhub_pool_leases_total",
		Help: "Total number of lease attempts, by outcome.",
	}, []string{"outcome"})

	// PoolLeaseWaitSeconds observes time spent waiting for a provider.
	PoolLeaseWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asrhub_pool_lease_wait_seconds",
		Help:    "Time a lease request spent waiting for a provider.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// PoolAvailable tracks idle healthy providers.
	PoolAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asrhub_pool_available",
		Help: "Current number of idle healthy providers.",
	})

	// PoolLeased tracks providers currently leased out.
	PoolLeased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asrhub_pool_leased",
		Help: "Current number of leased providers.",
	})

	// PoolWaiting tracks lease requests queued for a provider.
	PoolWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asrhub_pool_waiting",
		Help: "Current number of queued lease requests.",
	})

	// PoolUnhealthyTotal counts providers marked unhealthy.
	PoolUnhealthyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asrhub_pool_unhealthy_total",
		Help: "Total number of providers marked unhealthy.",
	})
)

// RecordLease increments the lease outcome counter.
func RecordLease(outcome string) {
	PoolLeasesTotal.WithLabelValues(outcome).Inc()
}
