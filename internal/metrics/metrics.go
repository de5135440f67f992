package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks wrapped operations by outcome and failure kind
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeguard_operations_total",
			Help: "Total number of wrapped scrape operations",
		},
		[]string{"outcome", "kind"},
	)

	// AttemptsTotal tracks individual attempts, including retries
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeguard_attempts_total",
			Help: "Total number of operation attempts",
		},
		[]string{"outcome"},
	)

	// CircuitRejectionsTotal tracks calls refused by an open circuit
	CircuitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapeguard_circuit_rejections_total",
			Help: "Total number of calls short-circuited by an open breaker",
		},
	)

	// OperationDuration tracks wall time of a wrapped operation including retries
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapeguard_operation_duration_seconds",
			Help:    "Wrapped operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// BatchItemsTotal tracks batch items by outcome
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeguard_batch_items_total",
			Help: "Total number of batch items processed",
		},
		[]string{"outcome"},
	)

	// OpenCircuits tracks how many breaker keys are currently open
	OpenCircuits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapeguard_open_circuits",
			Help: "Number of breaker keys currently refusing attempts",
		},
	)

	// JournalErrorsTotal tracks failures to persist a failure record
	JournalErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapeguard_journal_errors_total",
			Help: "Total number of failure journal write errors",
		},
	)
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// DBConnectionPoolUsage tracks journal pool usage as a percentage
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "scrapeguard_db_connection_pool_usage_percent",
		Help: "Percentage of journal database connections in use",
	},
)
