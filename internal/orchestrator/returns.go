package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/idempotency"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// ProcessReturn reverses a completed transfer once. A transfer that is
// already reversed, or a return message seen before, short-circuits without
// side effects.
func (o *Orchestrator) ProcessReturn(ctx context.Context, req models.ReturnRequest) (models.ReturnResult, error) {
	if err := req.Validate(); err != nil {
		return models.ReturnResult{}, err
	}

	originalID := req.Body.OriginalInstructionID
	unlock := o.locks.lock(originalID)
	defer unlock()

	tx, err := o.load(ctx, originalID)
	if err != nil {
		return models.ReturnResult{}, err
	}
	log := o.logger.With(
		zap.String("instruction_id", originalID),
		zap.String("return_message_id", req.Header.MessageID))

	if tx.Status == models.StatusReversed {
		log.Info("transaction already reversed")
		return models.ReturnResult{
			OriginalInstructionID: originalID,
			Status:                models.ReturnResultAlreadyReversed,
			AlreadyProcessed:      true,
			Message:               "the transaction was already reversed",
		}, nil
	}
	if err := returnable(tx, req); err != nil {
		return models.ReturnResult{}, err
	}

	key := idempotency.ReturnKey(req.Header.MessageID)
	fingerprint := idempotency.ReturnFingerprint(req)
	claim, err := o.deps.Guard.Claim(ctx, key, fingerprint)
	if err != nil {
		return models.ReturnResult{}, err
	}
	metrics.IdempotencyClaim(claim.Outcome.String(), claim.Degraded)

	switch claim.Outcome {
	case idempotency.Conflict:
		log.Error("return message id reused with different content")
		return models.ReturnResult{}, fmt.Errorf("return %s: %w", req.Header.MessageID, models.ErrIntegrityViolation)
	case idempotency.Duplicate:
		log.Info("duplicate return request")
		res := models.ReturnResult{OriginalInstructionID: originalID}
		if len(claim.Response) > 0 {
			if err := json.Unmarshal(claim.Response, &res); err != nil {
				log.Warn("cached return response unreadable", zap.Error(err))
			}
		}
		if res.Status == models.ReturnResultReversed && res.ReturnID != "" {
			o.markReversed(ctx, tx, req, res.ReturnID, log)
		}
		res.Status = models.ReturnResultAlreadyProcessed
		res.AlreadyProcessed = true
		return res, nil
	}

	res, posted, err := o.reverse(ctx, tx, req, log)
	if err != nil {
		if posted {
			// ledger already reversed, keep the claim
			if cErr := o.deps.Guard.Complete(ctx, key, fingerprint, res); cErr != nil {
				log.Error("return response not stored after ledger reversal",
					zap.Bool("manual_reconciliation", true), zap.Error(cErr))
			}
			return models.ReturnResult{}, err
		}
		if relErr := o.deps.Guard.Release(ctx, key); relErr != nil {
			log.Warn("return claim not released", zap.Error(relErr))
		}
		return models.ReturnResult{}, err
	}
	if err := o.deps.Guard.Complete(ctx, key, fingerprint, res); err != nil {
		log.Warn("return response not stored", zap.Error(err))
	}
	return res, nil
}

// reverse registers and posts the reversal, then marks tx REVERSED. posted
// reports whether the ledger reversal went through, even when a later step failed.
func (o *Orchestrator) reverse(ctx context.Context, tx models.Transaction, req models.ReturnRequest, log *zap.Logger) (models.ReturnResult, bool, error) {
	returnID := sanitizeReturnID(req.Header.MessageID, tx.InstructionID)
	if returnID != req.Header.MessageID {
		log.Info("return id collides with the original instruction, replaced", zap.String("return_id", returnID))
		req.Header.MessageID = "RET-" + returnID
	}
	req.Body.ReturnInstructionID = returnID

	rec := o.returnRecord(tx, req, returnID)
	if err := o.deps.Returns.Register(ctx, rec); err != nil {
		log.Warn("returns registry refused the return", zap.Error(err))
		return models.ReturnResult{}, false, err
	}

	err := o.deps.Ledger.Reverse(ctx, models.LedgerReversal{
		ReturnID:              returnID,
		OriginalInstructionID: tx.InstructionID,
		Amount:                rec.Amount,
		Currency:              rec.Currency,
		Reason:                rec.ReasonCode,
	})
	if err != nil {
		log.Error("ledger reversal failed", zap.String("return_id", returnID), zap.Error(err))
		rec.Status = models.ReturnFailed
		o.recordReturn(ctx, rec, log)
		return models.ReturnResult{}, false, err
	}

	rec.Status = models.ReturnReversed
	o.recordReturn(ctx, rec, log)

	res := models.ReturnResult{
		ReturnID:              returnID,
		OriginalInstructionID: tx.InstructionID,
		Status:                models.ReturnResultReversed,
	}
	reversed, err := o.deps.Settler.Reversed(ctx, tx, rec)
	if err != nil {
		log.Error("ledger reversed but transaction status not updated",
			zap.Bool("manual_reconciliation", true),
			zap.String("return_id", returnID),
			zap.Error(err))
		res.Message = "ledger reversed, transaction status pending"
		return res, true, models.WrapSwitchError(models.ReasonTechnical, err, "mark %s reversed", tx.InstructionID)
	}

	o.notifyReturn(ctx, reversed.OriginBankID, req, log)
	o.notifyReturn(ctx, reversed.DestinationBankID, req, log)

	log.Info("transaction reversed", zap.String("return_id", returnID))
	return res, true, nil
}

// markReversed retries the status write for a return whose ledger reversal
// is already posted.
func (o *Orchestrator) markReversed(ctx context.Context, tx models.Transaction, req models.ReturnRequest, returnID string, log *zap.Logger) {
	if tx.Status != models.StatusCompleted {
		return
	}
	rec := o.returnRecord(tx, req, returnID)
	rec.Status = models.ReturnReversed
	if _, err := o.deps.Settler.Reversed(ctx, tx, rec); err != nil {
		log.Error("transaction status still not reversed",
			zap.Bool("manual_reconciliation", true),
			zap.String("return_id", returnID),
			zap.Error(err))
		return
	}
	log.Info("reversed status recorded on retry", zap.String("return_id", returnID))
}

func (o *Orchestrator) returnRecord(tx models.Transaction, req models.ReturnRequest, returnID string) models.ReturnRecord {
	return models.ReturnRecord{
		ReturnID:              returnID,
		OriginalInstructionID: tx.InstructionID,
		ReasonCode:            req.Body.ReturnReason,
		Amount:                req.Body.ReturnAmount.Value,
		Currency:              strings.ToUpper(req.Body.ReturnAmount.Currency),
		Status:                models.ReturnReceived,
		CreatedAt:             o.now().UTC(),
	}
}

func (o *Orchestrator) recordReturn(ctx context.Context, rec models.ReturnRecord, log *zap.Logger) {
	if err := o.deps.Returns.UpdateStatus(ctx, rec.ReturnID, rec.Status); err != nil {
		log.Warn("returns registry status not updated", zap.String("status", rec.Status), zap.Error(err))
	}
	if err := o.deps.Store.SaveReturn(ctx, rec); err != nil {
		log.Warn("return record not persisted", zap.String("return_id", rec.ReturnID), zap.Error(err))
	}
}

func (o *Orchestrator) notifyReturn(ctx context.Context, bic string, req models.ReturnRequest, log *zap.Logger) {
	bank, err := o.deps.Directory.Institution(ctx, bic)
	if err != nil {
		log.Warn("bank lookup failed, return notice not sent", zap.String("bic", bic), zap.Error(err))
		return
	}
	if err := o.deps.Banks.NotifyReturn(ctx, bank, req); err != nil {
		log.Warn("return notice not delivered", zap.String("bic", bic), zap.Error(err))
	}
}

// returnable checks that req may reverse tx in full.
func returnable(tx models.Transaction, req models.ReturnRequest) error {
	if tx.Status != models.StatusCompleted {
		return models.NewSwitchError(models.ReasonForbidden,
			"transaction %s is %s, only completed transfers can be returned", tx.InstructionID, tx.Status)
	}
	if !strings.EqualFold(req.Body.ReturnAmount.Currency, tx.Currency) {
		return models.NewSwitchError(models.ReasonUnsupportedCurrency,
			"return currency %s does not match %s", req.Body.ReturnAmount.Currency, tx.Currency)
	}
	if !req.Body.ReturnAmount.Value.Equal(tx.Amount) {
		return models.NewSwitchError(models.ReasonPartialReturn,
			"return amount %s differs from the original %s", req.Body.ReturnAmount.Value, tx.Amount)
	}
	return nil
}

// sanitizeReturnID replaces a return id that is really the original instruction id.
func sanitizeReturnID(messageID, originalID string) string {
	bare := strings.TrimPrefix(strings.TrimPrefix(messageID, "RET-"), "MSG-")
	if messageID == originalID || bare == originalID {
		return uuid.NewString()
	}
	return messageID
}
