package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/delivery"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/idempotency"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Guard is the idempotency guard. See idempotency.Guard.
type Guard interface {
	Claim(ctx context.Context, key, fingerprint string) (idempotency.Claim, error)
	Complete(ctx context.Context, key, fingerprint string, response any) error
	Release(ctx context.Context, key string) error
}

// Deliverer hands instructions to destination banks. See delivery.Pipeline.
type Deliverer interface {
	Mode() delivery.Mode
	Admit(bank models.Institution) (delivery.Result, bool)
	Dispatch(ctx context.Context, bank models.Institution, instruction models.Instruction) delivery.Result
}

// Settler applies state changes after RECEIVED. See settlement.Finalizer.
type Settler interface {
	Advance(ctx context.Context, tx models.Transaction, next models.Status, code models.ReasonCode) (models.Transaction, error)
	Complete(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	Fail(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error)
	Reject(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error)
	Reversed(ctx context.Context, tx models.Transaction, rec models.ReturnRecord) (models.Transaction, error)
}

// Resolver polls destination banks for stuck transactions. See resolution.Poller.
type Resolver interface {
	Due(tx models.Transaction) bool
	Resolve(ctx context.Context, tx models.Transaction) (models.Transaction, error)
}

// Dependencies are the collaborators the orchestrator sequences.
type Dependencies struct {
	Store     interfaces.TransactionStore
	Guard     Guard
	Ledger    interfaces.Ledger
	Directory interfaces.Directory
	Clearing  interfaces.Clearing
	Returns   interfaces.ReturnsRegistry
	Banks     interfaces.BankGateway
	Delivery  Deliverer
	Settler   Settler
	Resolver  Resolver
}

// Policy holds the business limits applied before money moves.
type Policy struct {
	MaxAmount         decimal.Decimal
	AllowedCurrencies []string
}

// DefaultPolicy accepts USD up to 10,000.
func DefaultPolicy() Policy {
	return Policy{MaxAmount: decimal.NewFromInt(10000), AllowedCurrencies: []string{"USD"}}
}

func (p Policy) allows(currency string) bool {
	for _, c := range p.AllowedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// Submission is the answer to a submitted instruction.
type Submission struct {
	Transaction models.TransactionView `json:"transaction"`
	Replayed    bool                   `json:"replayed"`
}

// Orchestrator drives instructions from receipt to a terminal state.
type Orchestrator struct {
	deps   Dependencies
	policy Policy
	locks  *instructionLocks
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Dependencies, policy Policy, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		policy: policy,
		locks:  newInstructionLocks(),
		logger: logger,
		now:    time.Now,
	}
}

// Submit processes an instruction exactly once. Replays of the same content get
// the stored response, a reused id with different content fails with
// models.ErrIntegrityViolation. Business failures are not errors: they come
// back as a FAILED transaction carrying the reason code.
func (o *Orchestrator) Submit(ctx context.Context, instruction models.Instruction) (Submission, error) {
	if err := instruction.Validate(); err != nil {
		return Submission{}, err
	}

	id := instruction.Body.InstructionID
	fingerprint := idempotency.Fingerprint(instruction)
	log := o.logger.With(zap.String("instruction_id", id), zap.String("message_id", instruction.Header.MessageID))

	claim, err := o.deps.Guard.Claim(ctx, idempotency.InstructionKey(id), fingerprint)
	if err != nil {
		return Submission{}, err
	}
	metrics.IdempotencyClaim(claim.Outcome.String(), claim.Degraded)

	switch claim.Outcome {
	case idempotency.Conflict:
		log.Error("instruction id reused with different content", zap.Bool("degraded", claim.Degraded))
		return Submission{}, fmt.Errorf("instruction %s: %w", id, models.ErrIntegrityViolation)
	case idempotency.Duplicate:
		log.Info("duplicate instruction, replaying stored response", zap.String("stored_status", claim.Status))
		return o.replay(ctx, id, fingerprint, claim.Response)
	}

	tx := models.Transaction{
		InstructionID:     id,
		MessageID:         instruction.Header.MessageID,
		NetworkReference:  idempotency.NetworkReference(instruction),
		Fingerprint:       fingerprint,
		Amount:            instruction.Body.Amount.Value,
		Currency:          strings.ToUpper(instruction.Body.Amount.Currency),
		OriginBankID:      instruction.Header.OriginatingBankID,
		DestinationBankID: instruction.Body.Creditor.TargetBankID,
		DebtorAccount:     instruction.Body.Debtor.AccountID,
		CreditorAccount:   instruction.Body.Creditor.AccountID,
		Status:            models.StatusReceived,
		CreatedAt:         o.now().UTC(),
	}
	if err := o.deps.Store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, models.ErrIntegrityViolation) {
			// a degraded claim let a second submission through
			log.Warn("transaction already stored despite acquired claim")
			return o.replay(ctx, id, fingerprint, nil)
		}
		if relErr := o.deps.Guard.Release(ctx, idempotency.InstructionKey(id)); relErr != nil {
			log.Warn("instruction claim not released", zap.Error(relErr))
		}
		return Submission{}, models.WrapSwitchError(models.ReasonTechnical, err, "persist transaction %s", id)
	}
	log.Info("instruction received",
		zap.String("origin_bank", tx.OriginBankID),
		zap.String("destination_bank", tx.DestinationBankID),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", tx.Currency))

	unlock := o.locks.lock(id)
	defer unlock()

	tx = o.process(ctx, tx, instruction)
	return Submission{Transaction: tx.View()}, nil
}

func (o *Orchestrator) replay(ctx context.Context, id, fingerprint string, cached json.RawMessage) (Submission, error) {
	if len(cached) > 0 {
		var view models.TransactionView
		if err := json.Unmarshal(cached, &view); err == nil {
			return Submission{Transaction: view, Replayed: true}, nil
		}
		o.logger.Warn("cached response unreadable, loading transaction", zap.String("instruction_id", id))
	}

	exists, err := o.deps.Store.TransactionExists(ctx, id)
	if err != nil {
		return Submission{}, models.WrapSwitchError(models.ReasonTechnical, err, "look up transaction %s", id)
	}
	if !exists {
		return Submission{}, models.NewSwitchError(models.ReasonDuplicate, "instruction %s is still being processed", id)
	}
	tx, err := o.deps.Store.GetTransaction(ctx, id)
	if err != nil {
		return Submission{}, models.WrapSwitchError(models.ReasonTechnical, err, "load transaction %s", id)
	}
	if tx.Fingerprint != fingerprint {
		return Submission{}, fmt.Errorf("instruction %s: %w", id, models.ErrIntegrityViolation)
	}
	return Submission{Transaction: tx.View(), Replayed: true}, nil
}

// process runs validate, debit and delivery for a freshly received transaction.
func (o *Orchestrator) process(ctx context.Context, tx models.Transaction, instruction models.Instruction) models.Transaction {
	log := o.logger.With(zap.String("instruction_id", tx.InstructionID))

	destination, err := o.validate(ctx, tx, instruction)
	if err != nil {
		log.Info("instruction failed validation", zap.String("reason", string(models.ReasonOf(err))), zap.Error(err))
		return o.fail(ctx, tx, models.ReasonOf(err))
	}

	if res, ok := o.deps.Delivery.Admit(destination); !ok {
		return o.fail(ctx, tx, res.Reason)
	}

	err = o.deps.Ledger.Post(ctx, models.LedgerPosting{
		BIC:       tx.OriginBankID,
		Reference: tx.InstructionID,
		Amount:    tx.Amount,
		Direction: models.Debit,
	})
	if err != nil {
		log.Info("origin debit refused", zap.String("reason", string(models.ReasonOf(err))), zap.Error(err))
		return o.fail(ctx, tx, models.ReasonOf(err))
	}
	tx.DebitPosted = true
	if err := o.deps.Store.UpdateTransaction(ctx, tx); err != nil {
		log.Warn("debit flag not persisted yet", zap.Error(err))
	}
	o.deps.Clearing.Accumulate(ctx, tx.OriginBankID, tx.Amount, true)

	if o.deps.Delivery.Mode() == delivery.ModeQueue {
		return o.enqueue(ctx, tx, destination, instruction)
	}
	return o.deliver(ctx, tx, destination, instruction)
}

func (o *Orchestrator) enqueue(ctx context.Context, tx models.Transaction, destination models.Institution, instruction models.Instruction) models.Transaction {
	res := o.deps.Delivery.Dispatch(ctx, destination, instruction)
	tx.Attempts = res.Attempts
	if res.Outcome != delivery.Queued {
		return o.fail(ctx, tx, res.Reason)
	}
	return o.advance(ctx, tx, models.StatusQueued, "")
}

func (o *Orchestrator) deliver(ctx context.Context, tx models.Transaction, destination models.Institution, instruction models.Instruction) models.Transaction {
	tx = o.advance(ctx, tx, models.StatusQueued, "")
	if tx.Status != models.StatusQueued {
		return tx
	}

	res := o.deps.Delivery.Dispatch(ctx, destination, instruction)
	tx.Attempts = res.Attempts

	switch res.Outcome {
	case delivery.Delivered:
		done, err := o.deps.Settler.Complete(ctx, tx)
		if err != nil {
			o.logger.Warn("delivered transaction left for resolution",
				zap.String("instruction_id", tx.InstructionID), zap.Error(err))
			return tx
		}
		return done
	case delivery.Rejected:
		return o.settle(ctx, tx, func(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
			return o.deps.Settler.Reject(ctx, tx, res.Reason)
		})
	case delivery.Exhausted:
		return o.advance(ctx, tx, models.StatusTimeout, models.ReasonTechnical)
	default:
		return o.fail(ctx, tx, res.Reason)
	}
}

func (o *Orchestrator) advance(ctx context.Context, tx models.Transaction, next models.Status, code models.ReasonCode) models.Transaction {
	return o.settle(ctx, tx, func(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
		return o.deps.Settler.Advance(ctx, tx, next, code)
	})
}

func (o *Orchestrator) fail(ctx context.Context, tx models.Transaction, code models.ReasonCode) models.Transaction {
	return o.settle(ctx, tx, func(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
		return o.deps.Settler.Fail(ctx, tx, code)
	})
}

// settle applies step and keeps the in-memory copy when the store could not be written.
func (o *Orchestrator) settle(ctx context.Context, tx models.Transaction, step func(context.Context, models.Transaction) (models.Transaction, error)) models.Transaction {
	next, err := step(ctx, tx)
	if err != nil {
		o.logger.Error("transaction state not persisted",
			zap.String("instruction_id", tx.InstructionID),
			zap.String("status", string(tx.Status)),
			zap.Bool("debit_posted", tx.DebitPosted),
			zap.Error(err))
		return tx
	}
	return next
}
