package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// acquireDuration tracks pool acquisition latency.
	acquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "postgres",
			Name:      "pool_acquire_duration_seconds",
			Help:      "Time spent acquiring a pooled connection",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	// poolTimeouts counts acquisitions that hit AcquireTimeout.
	poolTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "postgres",
			Name:      "pool_acquire_timeouts_total",
			Help:      "Total number of pool acquisitions that timed out",
		},
	)
)
