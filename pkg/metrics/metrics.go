package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EscrowsCreated counts escrows created by fee split option
var EscrowsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_created_total",
		Help: "Total number of escrows created",
	},
	[]string{"fee_split"},
)

// EscrowsSettled counts terminal transitions by final status
var EscrowsSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_settled_total",
		Help: "Total number of escrows reaching a terminal state",
	},
	[]string{"status"},
)

// DisputesResolved counts dispute resolutions by type
var DisputesResolved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_disputes_resolved_total",
		Help: "Total number of disputes resolved",
	},
	[]string{"resolution"},
)

// FeesCaptured sums platform revenue by fee type
var FeesCaptured = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_fees_captured_total",
		Help: "Total platform fees captured, by fee type",
	},
	[]string{"fee_type"},
)

func init() {
	prometheus.MustRegister(EscrowsCreated, EscrowsSettled, DisputesResolved, FeesCaptured)
}
