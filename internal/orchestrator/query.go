package orchestrator

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// Get returns a transaction. Reading one that is stuck past the grace window
// polls the destination first.
func (o *Orchestrator) Get(ctx context.Context, instructionID string) (models.TransactionView, error) {
	tx, err := o.load(ctx, instructionID)
	if err != nil {
		return models.TransactionView{}, err
	}
	if !o.deps.Resolver.Due(tx) {
		return tx.View(), nil
	}

	// someone else is working on it, answer with what is stored
	unlock, ok := o.locks.tryLock(instructionID)
	if !ok {
		return tx.View(), nil
	}
	defer unlock()

	if tx, err = o.load(ctx, instructionID); err != nil {
		return models.TransactionView{}, err
	}
	resolved, err := o.deps.Resolver.Resolve(ctx, tx)
	if err != nil {
		o.logger.Warn("resolution attempt failed", zap.String("instruction_id", instructionID), zap.Error(err))
		return tx.View(), nil
	}
	return resolved.View(), nil
}

// List returns recent transactions, newest first.
func (o *Orchestrator) List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionView, error) {
	if filter.Limit <= 0 {
		filter.Limit = models.DefaultListLimit
	}
	txs, err := o.deps.Store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, models.WrapSwitchError(models.ReasonTechnical, err, "list transactions")
	}
	views := make([]models.TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, tx.View())
	}
	return views, nil
}

func (o *Orchestrator) load(ctx context.Context, instructionID string) (models.Transaction, error) {
	tx, err := o.deps.Store.GetTransaction(ctx, instructionID)
	if errors.Is(err, models.ErrNotFound) {
		return tx, models.WrapSwitchError(models.ReasonMalformed, err, "transaction %s not found", instructionID)
	}
	if err != nil {
		return tx, models.WrapSwitchError(models.ReasonTechnical, err, "load transaction %s", instructionID)
	}
	return tx, nil
}
