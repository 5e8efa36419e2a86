/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters for the operations that move money or create work. Exposed on
  GET /metrics via promhttp (see server.go).

The settlement counters track applied and discarded amounts as floats;
they are operational signals, not the books of record - exact figures live
in the claim store.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClaimsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_claims_created_total",
		Help: "Number of expense claims submitted.",
	})

	metricClaimsReviewed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_claims_reviewed_total",
		Help: "Number of review decisions, labeled by outcome.",
	}, []string{"decision"})

	metricSettlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_settlements_total",
		Help: "Number of settlement passes executed.",
	})

	metricSettlementApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_settlement_applied_total",
		Help: "Total payment amount applied to claims.",
	})

	metricSettlementDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_settlement_discarded_total",
		Help: "Total payment surplus discarded beyond outstanding balances.",
	})
)
