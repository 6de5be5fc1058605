package orchestrator

import (
	"context"
	"strings"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// HandleCallback applies the outcome a destination bank reports for a queued
// instruction and forwards the report to the origin bank.
func (o *Orchestrator) HandleCallback(ctx context.Context, report models.StatusReport) (models.TransactionView, error) {
	if err := report.Validate(); err != nil {
		return models.TransactionView{}, err
	}

	id := report.Body.OriginalInstructionID
	unlock := o.locks.lock(id)
	defer unlock()

	tx, err := o.load(ctx, id)
	if err != nil {
		return models.TransactionView{}, err
	}
	log := o.logger.With(
		zap.String("instruction_id", id),
		zap.String("responding_bank", report.Header.RespondingBankID),
		zap.String("reported_status", string(report.Body.Status)))

	if report.Header.RespondingBankID != tx.DestinationBankID {
		log.Warn("callback from a bank that is not the destination")
		return models.TransactionView{}, models.NewSwitchError(models.ReasonForbidden,
			"bank %s is not the destination of %s", report.Header.RespondingBankID, id)
	}

	if tx.Status.IsTerminal() {
		if callbackMatches(tx.Status, report.Body.Status) {
			log.Info("repeated callback for settled transaction")
			return tx.View(), nil
		}
		return models.TransactionView{}, &models.TransitionError{From: tx.Status, To: callbackTarget(report.Body.Status)}
	}
	if tx.Status == models.StatusReceived && !tx.DebitPosted {
		return models.TransactionView{}, &models.TransitionError{From: tx.Status, To: callbackTarget(report.Body.Status)}
	}

	switch report.Body.Status {
	case models.CallbackCompleted:
		tx, err = o.deps.Settler.Complete(ctx, tx)
		if err != nil {
			return models.TransactionView{}, models.WrapSwitchError(models.ReasonTechnical, err, "settle %s", id)
		}
	case models.CallbackRejected:
		code := callbackReason(report.Body)
		log.Info("destination rejected instruction", zap.String("reason", string(code)))
		tx, err = o.deps.Settler.Reject(ctx, tx, code)
		if err != nil {
			return models.TransactionView{}, models.WrapSwitchError(models.ReasonTechnical, err, "settle %s", id)
		}
	}

	o.notifyOrigin(ctx, tx, report)
	return tx.View(), nil
}

func (o *Orchestrator) notifyOrigin(ctx context.Context, tx models.Transaction, report models.StatusReport) {
	origin, err := o.deps.Directory.Institution(ctx, tx.OriginBankID)
	if err != nil {
		o.logger.Warn("origin bank lookup failed, status not forwarded",
			zap.String("instruction_id", tx.InstructionID), zap.Error(err))
		return
	}
	if origin.WebhookURL == "" {
		return
	}
	if err := o.deps.Banks.NotifyStatus(ctx, origin, report); err != nil {
		o.logger.Warn("status not forwarded to origin bank",
			zap.String("instruction_id", tx.InstructionID),
			zap.String("origin_bank", origin.BIC),
			zap.Error(err))
	}
}

func callbackTarget(status models.CallbackStatus) models.Status {
	if status == models.CallbackCompleted {
		return models.StatusCompleted
	}
	return models.StatusRejected
}

func callbackMatches(current models.Status, reported models.CallbackStatus) bool {
	switch reported {
	case models.CallbackCompleted:
		return current == models.StatusCompleted
	case models.CallbackRejected:
		return current == models.StatusRejected || current == models.StatusFailed
	}
	return false
}

// callbackReason prefers a known reason code and falls back to reading the description.
func callbackReason(body models.StatusReportBody) models.ReasonCode {
	code := models.ReasonCode(strings.ToUpper(strings.TrimSpace(body.ReasonCode)))
	if code.Known() {
		return code
	}
	return models.NormalizeReason(body.ReasonCode + " " + body.ReasonDescription)
}
