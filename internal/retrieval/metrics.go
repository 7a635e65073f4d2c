package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchesTotal counts queries by outcome: full, degraded, or error.
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Total number of hybrid retrieval queries",
		},
		[]string{"status"},
	)

	// channelFailures counts channels that degraded a response.
	channelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "retrieval",
			Name:      "channel_failures_total",
			Help:      "Total number of channel failures that degraded a response",
		},
		[]string{"channel"},
	)
)
