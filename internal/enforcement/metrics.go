package enforcement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsTotal counts phase changes by from/to.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "enforcement",
			Name:      "transitions_total",
			Help:      "Total number of enforcement phase transitions",
		},
		[]string{"from", "to"},
	)

	// auditEntriesWritten counts shadow audit entries persisted.
	auditEntriesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "enforcement",
			Name:      "audit_entries_written_total",
			Help:      "Total number of shadow audit entries written",
		},
	)

	// auditFlushFailures counts dropped audit batches.
	auditFlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "enforcement",
			Name:      "audit_flush_failures_total",
			Help:      "Total number of audit flushes that failed and dropped entries",
		},
	)

	// ViolationsObserved counts would-be violations by phase and operation.
	ViolationsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "enforcement",
			Name:      "violations_observed_total",
			Help:      "Total number of cross-tenant operations observed or blocked",
		},
		[]string{"phase", "operation", "outcome"},
	)
)
