package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	topupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_transactions_total",
		Help: "Total number of top-up transactions by final status",
	}, []string{
		"org_id",
		"payment_type", // wallet, gateway
		"status",       // completed, failed, refunded, processing
	})

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_refunds_total",
		Help: "Total refund pipeline outcomes",
	}, []string{
		"org_id",
		"outcome", // credited, already_refunded, no_customer, error
	})

	ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total balance ledger operations",
	}, []string{
		"op",      // reserve, release, deduct, deposit
		"outcome", // ok, insufficient_funds, error
	})

	pricingQuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_quotes_total",
		Help: "Total pricing engine evaluations",
	}, []string{
		"org_id",
		"rule_matched", // true, false
	})

	retryClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_retry_claims_total",
		Help: "Atomic retry claim attempts",
	}, []string{
		"org_id",
		"outcome", // claimed, conflict
	})

	providerDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_dispatch_duration_seconds",
		Help:    "Time spent on fulfillment provider dispatches",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"provider",
		"status", // Completed, Processing, Failed, error
	})
)

// RecordTopup counts a transaction reaching a status
func RecordTopup(orgID, paymentType, status string) {
	topupsTotal.WithLabelValues(orgID, paymentType, status).Inc()
}

// RecordRefund counts a refund pipeline outcome
func RecordRefund(orgID, outcome string) {
	refundsTotal.WithLabelValues(orgID, outcome).Inc()
}

// RecordLedgerOp counts a ledger mutation
func RecordLedgerOp(op, outcome string) {
	ledgerOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordQuote counts a pricing evaluation
func RecordQuote(orgID string, matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	pricingQuotesTotal.WithLabelValues(orgID, label).Inc()
}

// RecordRetryClaim counts an atomic claim attempt
func RecordRetryClaim(orgID, outcome string) {
	retryClaimsTotal.WithLabelValues(orgID, outcome).Inc()
}

// ObserveProviderDispatch records a dispatch duration
func ObserveProviderDispatch(provider, status string, seconds float64) {
	providerDispatchDuration.WithLabelValues(provider, status).Observe(seconds)
}
