package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// SwitchBankID identifies the switch itself as originator of reversal notices.
const SwitchBankID = "SWITCH"

// Compensator undoes the origin debit of a transaction that will not complete.
type Compensator struct {
	ledger    interfaces.Ledger
	clearing  interfaces.Clearing
	directory interfaces.Directory
	banks     interfaces.BankGateway
	logger    *zap.Logger
	now       func() time.Time
}

func NewCompensator(ledger interfaces.Ledger, clearing interfaces.Clearing, directory interfaces.Directory, banks interfaces.BankGateway, logger *zap.Logger) *Compensator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compensator{
		ledger:    ledger,
		clearing:  clearing,
		directory: directory,
		banks:     banks,
		logger:    logger,
		now:       time.Now,
	}
}

// Compensate credits the origin back under a fresh reference, reverses the
// clearing leg and tells the origin bank. It never returns an error: a failed
// credit is logged for manual reconciliation and reported as ok=false.
func (c *Compensator) Compensate(ctx context.Context, tx models.Transaction) (string, bool) {
	log := c.logger.With(
		zap.String("instruction_id", tx.InstructionID),
		zap.String("origin_bank", tx.OriginBankID),
		zap.String("amount", tx.Amount.String()))

	if !tx.DebitPosted {
		return "", true
	}
	if tx.CompensationRef != "" {
		log.Info("transaction already compensated", zap.String("compensation_ref", tx.CompensationRef))
		return tx.CompensationRef, true
	}

	ref := uuid.NewString()
	err := c.ledger.Post(ctx, models.LedgerPosting{
		BIC:       tx.OriginBankID,
		Reference: ref,
		Amount:    tx.Amount,
		Direction: models.Credit,
	})
	if err != nil {
		log.Error("compensating credit failed",
			zap.Bool("manual_reconciliation", true),
			zap.String("reason", string(models.ReasonOf(err))),
			zap.Error(err))
		metrics.Compensation("ledger_failed")
		return "", false
	}

	c.clearing.Accumulate(ctx, tx.OriginBankID, tx.Amount, false)
	c.notifyOrigin(ctx, tx, log)

	log.Info("transaction compensated", zap.String("compensation_ref", ref))
	metrics.Compensation("posted")
	return ref, true
}

func (c *Compensator) notifyOrigin(ctx context.Context, tx models.Transaction, log *zap.Logger) {
	origin, err := c.directory.Institution(ctx, tx.OriginBankID)
	if err != nil {
		log.Warn("origin bank lookup failed, reversal notice not sent", zap.Error(err))
		return
	}

	reason := tx.ErrorCode
	if reason == "" {
		reason = models.ReasonTechnical
	}
	notice := models.ReturnRequest{
		Header: models.ReturnHeader{
			MessageID:         "REV-" + uuid.NewString(),
			CreationDateTime:  c.now().UTC().Format(time.RFC3339),
			OriginatingBankID: SwitchBankID,
		},
		Body: models.ReturnBody{
			OriginalInstructionID: tx.InstructionID,
			ReturnReason:          string(reason),
			ReturnAmount:          models.Amount{Value: tx.Amount, Currency: tx.Currency},
		},
	}
	if err := c.banks.NotifyReturn(ctx, origin, notice); err != nil {
		log.Warn("reversal notice to origin failed", zap.Error(err))
	}
}
