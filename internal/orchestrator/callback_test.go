package orchestrator

import (
	"context"
	"testing"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/delivery"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queued(t *testing.T, id string) *rig {
	t.Helper()
	r := newRig(t, delivery.ModeQueue)
	sub, err := r.orch.Submit(context.Background(), instruction(id, "100.00"))
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, sub.Transaction.Status)
	return r
}

func TestCallbackFromWrongBankIsForbidden(t *testing.T) {
	r := queued(t, "X")
	report := completedReport("X")
	report.Header.RespondingBankID = "BANKAAAA"

	_, err := r.orch.HandleCallback(context.Background(), report)
	require.Error(t, err)
	assert.Equal(t, models.ReasonForbidden, models.ReasonOf(err))
	assert.Zero(t, r.ledger.Count("BANKBBBB", models.Credit))
}

func TestRepeatedCallbackIsIdempotent(t *testing.T) {
	r := queued(t, "X")
	ctx := context.Background()

	_, err := r.orch.HandleCallback(ctx, completedReport("X"))
	require.NoError(t, err)
	view, err := r.orch.HandleCallback(ctx, completedReport("X"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.Equal(t, 1, r.ledger.Count("BANKBBBB", models.Credit))
	assert.Len(t, r.banks.StatusReports, 1)
}

func TestContradictoryCallbackIsTransitionError(t *testing.T) {
	r := queued(t, "X")
	ctx := context.Background()

	_, err := r.orch.HandleCallback(ctx, completedReport("X"))
	require.NoError(t, err)

	reject := completedReport("X")
	reject.Body.Status = models.CallbackRejected
	_, err = r.orch.HandleCallback(ctx, reject)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Zero(t, r.ledger.Count("BANKAAAA", models.Credit))
}

func TestRejectedCallbackCompensatesOnce(t *testing.T) {
	r := queued(t, "X")
	ctx := context.Background()

	report := completedReport("X")
	report.Body.Status = models.CallbackRejected
	report.Body.ReasonDescription = "Cuenta Cerrada"

	view, err := r.orch.HandleCallback(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, view.Status)
	assert.Equal(t, models.ReasonClosedAccount, view.ErrorCode)

	_, err = r.orch.HandleCallback(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ledger.Count("BANKAAAA", models.Credit))
	assert.Zero(t, r.ledger.Count("BANKBBBB", models.Credit))
}

func TestCallbackReasonCodeWins(t *testing.T) {
	code := callbackReason(models.StatusReportBody{ReasonCode: "am04", ReasonDescription: "Cuenta Cerrada"})
	assert.Equal(t, models.ReasonInsufficientFunds, code)

	code = callbackReason(models.StatusReportBody{ReasonCode: "X99", ReasonDescription: "Saldo Insuficiente"})
	assert.Equal(t, models.ReasonInsufficientFunds, code)

	code = callbackReason(models.StatusReportBody{})
	assert.Equal(t, models.ReasonTechnical, code)
}

func TestCallbackForUnknownTransaction(t *testing.T) {
	r := newRig(t, delivery.ModeQueue)

	_, err := r.orch.HandleCallback(context.Background(), completedReport("missing"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCallbackResolvesTimedOutTransaction(t *testing.T) {
	r := newRig(t, delivery.ModeWebhook)
	r.banks.DeliverStatus = []int{503}
	ctx := context.Background()

	sub, err := r.orch.Submit(ctx, instruction("T-1", "100.00"))
	require.NoError(t, err)
	require.Equal(t, models.StatusTimeout, sub.Transaction.Status)

	view, err := r.orch.HandleCallback(ctx, completedReport("T-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.Equal(t, 1, r.ledger.Count("BANKBBBB", models.Credit))
	assert.Zero(t, r.ledger.Count("BANKAAAA", models.Credit))
}
