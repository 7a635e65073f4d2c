package embeddings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "embeddings",
		Name:      "requests_total",
		Help:      "Embedding endpoint calls by operation and outcome.",
	}, []string{"op", "status"})

	textsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "embeddings",
		Name:      "texts_total",
		Help:      "Texts successfully embedded.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recalld",
		Subsystem: "embeddings",
		Name:      "request_duration_seconds",
		Help:      "Embedding endpoint call latency.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})
)
