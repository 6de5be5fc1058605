package saga

import (
	"context"
	"testing"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/fakes"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func debitedTx() models.Transaction {
	return models.Transaction{
		InstructionID:     "INS-1",
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "USD",
		OriginBankID:      "BANKAAAA",
		DestinationBankID: "BANKBBBB",
		Status:            models.StatusQueued,
		ErrorCode:         models.ReasonTechnical,
		DebitPosted:       true,
	}
}

type harness struct {
	ledger   *fakes.Ledger
	clearing *fakes.Clearing
	banks    *fakes.Banks
	comp     *Compensator
}

func newHarness(t *testing.T) harness {
	h := harness{
		ledger:   fakes.NewLedger(),
		clearing: &fakes.Clearing{},
		banks:    &fakes.Banks{},
	}
	dir := fakes.NewDirectory(models.Institution{BIC: "BANKAAAA", WebhookURL: "http://a"})
	h.comp = NewCompensator(h.ledger, h.clearing, dir, h.banks, zaptest.NewLogger(t))
	return h
}

func TestCompensatePostsInverseLegs(t *testing.T) {
	h := newHarness(t)
	tx := debitedTx()

	ref, ok := h.comp.Compensate(context.Background(), tx)
	require.True(t, ok)
	assert.NotEmpty(t, ref)
	assert.NotEqual(t, tx.InstructionID, ref)

	postings := h.ledger.All()
	require.Len(t, postings, 1)
	assert.Equal(t, "BANKAAAA", postings[0].BIC)
	assert.Equal(t, models.Credit, postings[0].Direction)
	assert.True(t, tx.Amount.Equal(postings[0].Amount))
	assert.Equal(t, ref, postings[0].Reference)

	legs := h.clearing.All()
	require.Len(t, legs, 1)
	assert.False(t, legs[0].IsDebit)
	assert.Equal(t, "BANKAAAA", legs[0].BIC)

	assert.Equal(t, []string{"BANKAAAA:INS-1"}, h.banks.ReturnNotices)
}

func TestCompensateSkipsWithoutDebit(t *testing.T) {
	h := newHarness(t)
	tx := debitedTx()
	tx.DebitPosted = false

	ref, ok := h.comp.Compensate(context.Background(), tx)
	assert.True(t, ok)
	assert.Empty(t, ref)
	assert.Empty(t, h.ledger.All())
}

func TestCompensateIsNotRepeated(t *testing.T) {
	h := newHarness(t)
	tx := debitedTx()
	tx.CompensationRef = "earlier"

	ref, ok := h.comp.Compensate(context.Background(), tx)
	assert.True(t, ok)
	assert.Equal(t, "earlier", ref)
	assert.Empty(t, h.ledger.All())
}

func TestCompensateLedgerFailureDoesNotPanicOrPropagate(t *testing.T) {
	h := newHarness(t)
	h.ledger.Fail["BANKAAAA/CREDIT"] = models.NewSwitchError(models.ReasonTechnical, "ledger down")

	ref, ok := h.comp.Compensate(context.Background(), debitedTx())
	assert.False(t, ok)
	assert.Empty(t, ref)
	assert.Empty(t, h.clearing.All())
	assert.Empty(t, h.banks.ReturnNotices)
}
