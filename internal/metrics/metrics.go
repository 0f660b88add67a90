package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsBuilt tracks snapshot builds by outcome (fresh, stale)
	SnapshotsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_snapshots_built_total",
			Help: "The total number of position snapshots built",
		},
		[]string{"position", "outcome"},
	)

	// InputReads tracks individual collaborator reads by source and status
	InputReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_input_reads_total",
			Help: "The total number of raw input reads",
		},
		[]string{"source", "status"}, // resolved, pending, failed
	)

	// ActionsSubmitted tracks actions delegated to the ledger by kind and outcome
	ActionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_actions_total",
			Help: "The total number of actions dispatched to the ledger",
		},
		[]string{"kind", "outcome"}, // dispatched, success, failed
	)

	// ActionsRejected tracks actions rejected locally before dispatch
	ActionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_actions_rejected_total",
			Help: "The total number of actions rejected by local validation",
		},
		[]string{"kind", "reason"},
	)

	// ActionsInFlight tracks mutating actions awaiting a ledger outcome
	ActionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmdash_actions_in_flight",
		Help: "The number of actions currently awaiting a ledger outcome",
	})

	// RPCRequestsTotal tracks RPC requests by status
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_rpc_requests_total",
			Help: "The total number of RPC requests",
		},
		[]string{"status"},
	)

	// RPCEndpointHealth tracks RPC endpoint health
	RPCEndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "farmdash_rpc_endpoint_health",
			Help: "Health status of RPC endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// RefreshSeconds tracks how long a full position refresh takes
	RefreshSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmdash_refresh_duration_seconds",
			Help:    "Time taken to gather inputs and rebuild a position snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"position"},
	)

	// DatabaseOperations tracks database operations
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_database_operations_total",
			Help: "The total number of database operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordSnapshot records a snapshot build
func RecordSnapshot(positionID string, stale bool) {
	outcome := "fresh"
	if stale {
		outcome = "stale"
	}
	SnapshotsBuilt.WithLabelValues(positionID, outcome).Inc()
}

// RecordInputRead records a single collaborator read
func RecordInputRead(source, status string) {
	InputReads.WithLabelValues(source, status).Inc()
}

// RecordAction records a dispatched action or its outcome
func RecordAction(kind, outcome string) {
	ActionsSubmitted.WithLabelValues(kind, outcome).Inc()
}

// RecordRejection records a locally rejected action
func RecordRejection(kind, reason string) {
	ActionsRejected.WithLabelValues(kind, reason).Inc()
}

// RecordRPCRequest records an RPC request with the given status
func RecordRPCRequest(status string) {
	RPCRequestsTotal.WithLabelValues(status).Inc()
}

// SetRPCEndpointHealth sets the health status of an RPC endpoint
func SetRPCEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	RPCEndpointHealth.WithLabelValues(endpoint).Set(value)
}

// RecordRefresh records the duration of a position refresh
func RecordRefresh(positionID string, seconds float64) {
	RefreshSeconds.WithLabelValues(positionID).Observe(seconds)
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}
