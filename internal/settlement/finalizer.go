package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/idempotency"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models/events"
	"go.uber.org/zap"
)

// Compensator reverses the origin debit. See saga.Compensator.
type Compensator interface {
	Compensate(ctx context.Context, tx models.Transaction) (string, bool)
}

// ResponseCache stores the final response of an instruction. See idempotency.Guard.
type ResponseCache interface {
	Complete(ctx context.Context, key, fingerprint string, response any) error
}

// Topics the finalizer publishes to.
type Topics struct {
	Transactions string
	Returns      string
}

// Finalizer applies every state change after RECEIVED. Writes are
// compare-and-set on the status the caller observed, so a callback, a poll
// and the delivery loop racing on one instruction settle it once.
type Finalizer struct {
	store       interfaces.TransactionStore
	ledger      interfaces.Ledger
	clearing    interfaces.Clearing
	compensator Compensator
	cache       ResponseCache
	publisher   interfaces.EventPublisher
	topics      Topics
	logger      *zap.Logger
	now         func() time.Time
}

func NewFinalizer(
	store interfaces.TransactionStore,
	ledger interfaces.Ledger,
	clearing interfaces.Clearing,
	compensator Compensator,
	cache ResponseCache,
	publisher interfaces.EventPublisher,
	topics Topics,
	logger *zap.Logger,
) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		store:       store,
		ledger:      ledger,
		clearing:    clearing,
		compensator: compensator,
		cache:       cache,
		publisher:   publisher,
		topics:      topics,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (f *Finalizer) WithClock(now func() time.Time) *Finalizer {
	f.now = now
	return f
}

// Advance moves tx to a non-terminal status (QUEUED or TIMEOUT).
func (f *Finalizer) Advance(ctx context.Context, tx models.Transaction, next models.Status, code models.ReasonCode) (models.Transaction, error) {
	from := tx.Status
	if err := tx.AdvanceTo(next, f.now()); err != nil {
		return tx, err
	}
	if code != "" {
		tx.ErrorCode = code
	}
	if err := f.store.TransitionTransaction(ctx, tx, from); err != nil {
		return f.lost(ctx, tx, err)
	}
	f.logger.Info("transaction advanced",
		zap.String("instruction_id", tx.InstructionID),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	if next == models.StatusTimeout {
		metrics.TransactionFinalized(string(next), string(tx.ErrorCode))
	}
	return tx, nil
}

// Complete credits the destination and settles tx as COMPLETED. The credit is
// posted under the instruction id, so the ledger absorbs a repeated credit.
func (f *Finalizer) Complete(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.Status == models.StatusCompleted {
		return tx, nil
	}
	if tx.Status.IsTerminal() {
		return tx, &models.TransitionError{From: tx.Status, To: models.StatusCompleted}
	}

	log := f.logger.With(zap.String("instruction_id", tx.InstructionID))
	err := f.ledger.Post(ctx, models.LedgerPosting{
		BIC:       tx.DestinationBankID,
		Reference: tx.InstructionID,
		Amount:    tx.Amount,
		Direction: models.Credit,
	})
	if err != nil {
		log.Error("destination credit failed, transaction left for resolution",
			zap.String("destination_bank", tx.DestinationBankID),
			zap.Error(err))
		return tx, fmt.Errorf("credit destination: %w", err)
	}

	from := tx.Status
	if err := tx.AdvanceTo(models.StatusCompleted, f.now()); err != nil {
		return tx, err
	}
	tx.ErrorCode = ""
	if err := f.store.TransitionTransaction(ctx, tx, from); err != nil {
		current, lostErr := f.lost(ctx, tx, err)
		if lostErr == nil && current.Status != models.StatusCompleted {
			log.Error("destination credited but transaction settled elsewhere",
				zap.Bool("manual_reconciliation", true),
				zap.String("status", string(current.Status)))
		}
		return current, lostErr
	}

	f.clearing.Accumulate(ctx, tx.DestinationBankID, tx.Amount, false)
	f.settled(ctx, tx)
	return tx, nil
}

// Fail settles tx as FAILED with code and compensates the origin if it was debited.
func (f *Finalizer) Fail(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error) {
	return f.abort(ctx, tx, models.StatusFailed, code)
}

// Reject settles tx as REJECTED, or as FAILED once a rejection is no longer a
// legal successor (a TIMEOUT transaction).
func (f *Finalizer) Reject(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error) {
	if models.PathBetween(tx.Status, models.StatusRejected) == nil {
		return f.abort(ctx, tx, models.StatusFailed, code)
	}
	return f.abort(ctx, tx, models.StatusRejected, code)
}

func (f *Finalizer) abort(ctx context.Context, tx models.Transaction, target models.Status, code models.ReasonCode) (models.Transaction, error) {
	if tx.Status.IsTerminal() {
		return tx, nil
	}
	if code == "" {
		code = models.ReasonTechnical
	}

	from := tx.Status
	if err := tx.AdvanceTo(target, f.now()); err != nil {
		return tx, err
	}
	tx.ErrorCode = code
	if err := f.store.TransitionTransaction(ctx, tx, from); err != nil {
		return f.lost(ctx, tx, err)
	}

	// only the writer that won the transition compensates
	if tx.NeedsCompensation() {
		if ref, ok := f.compensator.Compensate(ctx, tx); ok && ref != "" {
			tx.CompensationRef = ref
			if err := f.store.UpdateTransaction(ctx, tx); err != nil {
				f.logger.Error("compensation reference not persisted",
					zap.String("instruction_id", tx.InstructionID),
					zap.String("compensation_ref", ref),
					zap.Error(err))
			}
		}
	}

	f.settled(ctx, tx)
	return tx, nil
}

// Reversed flips a COMPLETED transaction to REVERSED after the ledger reversal.
func (f *Finalizer) Reversed(ctx context.Context, tx models.Transaction, rec models.ReturnRecord) (models.Transaction, error) {
	from := tx.Status
	if err := tx.TransitionTo(models.StatusReversed, f.now()); err != nil {
		return tx, err
	}
	if err := f.store.TransitionTransaction(ctx, tx, from); err != nil {
		return f.lost(ctx, tx, err)
	}

	f.clearing.Accumulate(ctx, tx.OriginBankID, tx.Amount, false)
	f.clearing.Accumulate(ctx, tx.DestinationBankID, tx.Amount, true)

	f.publish(ctx, f.topics.Returns, tx.InstructionID, events.TransactionReversed{
		ReturnID:              rec.ReturnID,
		OriginalInstructionID: tx.InstructionID,
		ReasonCode:            rec.ReasonCode,
		Amount:                rec.Amount,
		Currency:              rec.Currency,
		OccurredAt:            f.now().UTC(),
	})
	metrics.TransactionFinalized(string(models.StatusReversed), rec.ReasonCode)
	return tx, nil
}

// lost reloads the transaction after a failed compare-and-set.
func (f *Finalizer) lost(ctx context.Context, attempted models.Transaction, err error) (models.Transaction, error) {
	if !errors.Is(err, models.ErrConcurrentUpdate) {
		return attempted, fmt.Errorf("persist transaction %s: %w", attempted.InstructionID, err)
	}
	current, getErr := f.store.GetTransaction(ctx, attempted.InstructionID)
	if getErr != nil {
		return attempted, fmt.Errorf("reload transaction %s: %w", attempted.InstructionID, getErr)
	}
	f.logger.Info("transaction moved concurrently, keeping stored state",
		zap.String("instruction_id", attempted.InstructionID),
		zap.String("wanted", string(attempted.Status)),
		zap.String("stored", string(current.Status)))
	return current, nil
}

func (f *Finalizer) settled(ctx context.Context, tx models.Transaction) {
	if err := f.cache.Complete(ctx, idempotency.InstructionKey(tx.InstructionID), tx.Fingerprint, tx.View()); err != nil {
		f.logger.Warn("idempotent response not stored",
			zap.String("instruction_id", tx.InstructionID),
			zap.Error(err))
	}

	f.publish(ctx, f.topics.Transactions, tx.InstructionID, events.TransactionFinalized{
		InstructionID:     tx.InstructionID,
		NetworkReference:  tx.NetworkReference,
		OriginBankID:      tx.OriginBankID,
		DestinationBankID: tx.DestinationBankID,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Status:            string(tx.Status),
		ErrorCode:         string(tx.ErrorCode),
		Compensated:       tx.CompensationRef != "",
		OccurredAt:        f.now().UTC(),
	})

	f.logger.Info("transaction settled",
		zap.String("instruction_id", tx.InstructionID),
		zap.String("status", string(tx.Status)),
		zap.String("reason", string(tx.ErrorCode)))
	metrics.TransactionFinalized(string(tx.Status), string(tx.ErrorCode))
}

func (f *Finalizer) publish(ctx context.Context, topic, key string, event any) {
	if err := f.publisher.Publish(ctx, topic, key, event); err != nil {
		f.logger.Warn("event not published",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		metrics.EventPublishError()
	}
}
