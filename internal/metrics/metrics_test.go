package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(transactionsFinalized.WithLabelValues("FAILED", "MS03"))
	TransactionFinalized("FAILED", "MS03")
	assert.Equal(t, before+1, testutil.ToFloat64(transactionsFinalized.WithLabelValues("FAILED", "MS03")))

	attempts := testutil.ToFloat64(deliveryAttempts)
	DeliveryOutcome("webhook", "exhausted", 4)
	assert.Equal(t, attempts+4, testutil.ToFloat64(deliveryAttempts))

	IdempotencyClaim("acquired", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(idempotencyClaims.WithLabelValues("acquired", "true")))
}
