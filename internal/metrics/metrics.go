package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switch_transactions_finalized_total",
			Help: "Transactions that reached a terminal or resting state",
		},
		[]string{"status", "reason"},
	)

	deliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switch_delivery_outcomes_total",
			Help: "Delivery pipeline results per mode",
		},
		[]string{"mode", "outcome"},
	)

	deliveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switch_delivery_attempts_total",
			Help: "Outbound delivery calls made to destination banks",
		},
	)

	compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switch_compensations_total",
			Help: "Saga compensations by result",
		},
		[]string{"result"},
	)

	idempotencyClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switch_idempotency_claims_total",
			Help: "Idempotency guard claims by outcome",
		},
		[]string{"outcome", "degraded"},
	)

	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switch_resolution_polls_total",
			Help: "Resolution poller results",
		},
		[]string{"result"},
	)

	eventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switch_event_publish_errors_total",
			Help: "Domain events that could not be published",
		},
	)
)

func TransactionFinalized(status, reason string) {
	transactionsFinalized.WithLabelValues(status, reason).Inc()
}

func DeliveryOutcome(mode, outcome string, attempts int) {
	deliveryOutcomes.WithLabelValues(mode, outcome).Inc()
	deliveryAttempts.Add(float64(attempts))
}

func Compensation(result string) {
	compensations.WithLabelValues(result).Inc()
}

func IdempotencyClaim(outcome string, degraded bool) {
	d := "false"
	if degraded {
		d = "true"
	}
	idempotencyClaims.WithLabelValues(outcome, d).Inc()
}

func Resolution(result string) {
	resolutions.WithLabelValues(result).Inc()
}

func EventPublishError() {
	eventPublishErrors.Inc()
}
