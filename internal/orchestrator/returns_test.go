package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/delivery"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/idempotency"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(t *testing.T, id string) *rig {
	t.Helper()
	r := queued(t, id)
	view, err := r.orch.HandleCallback(context.Background(), completedReport(id))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, view.Status)
	return r
}

func returnRequest(messageID, originalID, amount string) models.ReturnRequest {
	return models.ReturnRequest{
		Header: models.ReturnHeader{
			MessageID:         messageID,
			CreationDateTime:  "2026-03-01T13:00:00Z",
			OriginatingBankID: "BANKBBBB",
		},
		Body: models.ReturnBody{
			OriginalInstructionID: originalID,
			ReturnReason:          "AC04",
			ReturnAmount:          models.Amount{Value: decimal.RequireFromString(amount), Currency: "USD"},
		},
	}
}

func TestReturnReversesOnce(t *testing.T) {
	r := completed(t, "X")
	ctx := context.Background()

	res, err := r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultReversed, res.Status)
	assert.Equal(t, "RET-1", res.ReturnID)
	assert.False(t, res.AlreadyProcessed)

	stored, err := r.store.GetTransaction(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReversed, stored.Status)
	assert.Equal(t, 1, r.ledger.ReversalCount())
	assert.Equal(t, models.ReturnReversed, r.returns.Statuses["RET-1"])
	assert.ElementsMatch(t, []string{"BANKAAAA:X", "BANKBBBB:X"}, r.banks.ReturnNotices)

	recs := r.store.Returns("X")
	require.Len(t, recs, 1)
	assert.Equal(t, models.ReturnReversed, recs[0].Status)

	again, err := r.orch.ProcessReturn(ctx, returnRequest("RET-2", "X", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultAlreadyReversed, again.Status)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, 1, r.ledger.ReversalCount())
}

func TestReturnRejectsPartialAmount(t *testing.T) {
	r := completed(t, "X")

	_, err := r.orch.ProcessReturn(context.Background(), returnRequest("RET-1", "X", "50.00"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonPartialReturn, models.ReasonOf(err))
	assert.Zero(t, r.ledger.ReversalCount())
}

func TestReturnRejectsCurrencyMismatch(t *testing.T) {
	r := completed(t, "X")
	req := returnRequest("RET-1", "X", "100.00")
	req.Body.ReturnAmount.Currency = "EUR"

	_, err := r.orch.ProcessReturn(context.Background(), req)
	assert.Equal(t, models.ReasonUnsupportedCurrency, models.ReasonOf(err))
}

func TestReturnOfUnsettledTransferIsForbidden(t *testing.T) {
	r := queued(t, "X")

	_, err := r.orch.ProcessReturn(context.Background(), returnRequest("RET-1", "X", "100.00"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonForbidden, models.ReasonOf(err))
}

func TestReturnOfUnknownTransfer(t *testing.T) {
	r := newRig(t, delivery.ModeQueue)

	_, err := r.orch.ProcessReturn(context.Background(), returnRequest("RET-1", "nope", "100.00"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.ReasonMalformed, models.ReasonOf(err))
}

func TestReturnRetryAfterLedgerFailure(t *testing.T) {
	r := completed(t, "X")
	ctx := context.Background()
	r.ledger.ReverseErr = models.NewSwitchError(models.ReasonTechnical, "ledger down")

	_, err := r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.Error(t, err)
	assert.Equal(t, models.ReturnFailed, r.returns.Statuses["RET-1"])

	stored, err := r.store.GetTransaction(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	r.ledger.ReverseErr = nil
	res, err := r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultReversed, res.Status)
	assert.Equal(t, 1, r.ledger.ReversalCount())
}

func TestReturnRegistryRefusalStopsReversal(t *testing.T) {
	r := completed(t, "X")
	r.returns.RegisterErr = models.NewSwitchError(models.ReasonMalformed, "bad return")

	_, err := r.orch.ProcessReturn(context.Background(), returnRequest("RET-1", "X", "100.00"))
	assert.Equal(t, models.ReasonMalformed, models.ReasonOf(err))
	assert.Zero(t, r.ledger.ReversalCount())
}

func TestReturnIDCollidingWithInstructionIsReplaced(t *testing.T) {
	r := completed(t, "X")

	res, err := r.orch.ProcessReturn(context.Background(), returnRequest("MSG-X", "X", "100.00"))
	require.NoError(t, err)
	assert.NotEqual(t, "MSG-X", res.ReturnID)
	assert.NotEqual(t, "X", res.ReturnID)
	require.Len(t, r.returns.Registered, 1)
	assert.Equal(t, res.ReturnID, r.returns.Registered[0].ReturnID)
}

func TestSanitizeReturnID(t *testing.T) {
	assert.Equal(t, "RET-9", sanitizeReturnID("RET-9", "X"))
	assert.NotEqual(t, "X", sanitizeReturnID("X", "X"))
	assert.NotEqual(t, "RET-X", sanitizeReturnID("RET-X", "X"))
	assert.False(t, strings.HasPrefix(sanitizeReturnID("MSG-X", "X"), "MSG-"))
}

func TestReturnMessageReusedWithDifferentContent(t *testing.T) {
	r := completed(t, "X")
	ctx := context.Background()
	_, err := r.orch.Submit(ctx, instruction("Y", "100.00"))
	require.NoError(t, err)
	_, err = r.orch.HandleCallback(ctx, completedReport("Y"))
	require.NoError(t, err)

	_, err = r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.NoError(t, err)

	_, err = r.orch.ProcessReturn(ctx, returnRequest("RET-1", "Y", "100.00"))
	assert.ErrorIs(t, err, models.ErrIntegrityViolation)
	assert.Equal(t, 1, r.ledger.ReversalCount())

	stored, err := r.store.GetTransaction(ctx, "Y")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestReturnRetryAfterStatusWriteFailureDoesNotReverseTwice(t *testing.T) {
	r := completed(t, "X")
	ctx := context.Background()
	r.flaky.failReversed = 1

	_, err := r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonTechnical, models.ReasonOf(err))
	assert.Equal(t, 1, r.ledger.ReversalCount())

	stored, err := r.store.GetTransaction(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	res, err := r.orch.ProcessReturn(ctx, returnRequest("RET-1", "X", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultAlreadyProcessed, res.Status)
	assert.Equal(t, "RET-1", res.ReturnID)
	assert.Equal(t, 1, r.ledger.ReversalCount())

	stored, err = r.store.GetTransaction(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReversed, stored.Status)

	other, err := r.orch.ProcessReturn(ctx, returnRequest("RET-2", "X", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultAlreadyReversed, other.Status)
	assert.Equal(t, 1, r.ledger.ReversalCount())
}

func TestReturnDuplicateWithUnreadableCachedResponse(t *testing.T) {
	r := completed(t, "X")
	req := returnRequest("RET-9", "X", "100.00")
	require.NoError(t, r.redis.Set(idempotency.ReturnKey("RET-9"),
		idempotency.ReturnFingerprint(req)+"|COMPLETED|{not json"))

	res, err := r.orch.ProcessReturn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnResultAlreadyProcessed, res.Status)
	assert.Equal(t, "X", res.OriginalInstructionID)
	assert.True(t, res.AlreadyProcessed)
	assert.Zero(t, r.ledger.ReversalCount())
}
