package resolution

import (
	"context"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultGrace  = 5 * time.Second
	DefaultWindow = 60 * time.Second
)

// Settler applies the outcome the destination reports. See settlement.Finalizer.
type Settler interface {
	Complete(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	Fail(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error)
	Reject(ctx context.Context, tx models.Transaction, code models.ReasonCode) (models.Transaction, error)
}

// Poller asks the destination bank about transactions stuck in a non-terminal state.
type Poller struct {
	directory interfaces.Directory
	banks     interfaces.BankGateway
	settler   Settler
	grace     time.Duration
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewPoller(directory interfaces.Directory, banks interfaces.BankGateway, settler Settler, grace, window time.Duration, logger *zap.Logger) *Poller {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if window <= grace {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		directory: directory,
		banks:     banks,
		settler:   settler,
		grace:     grace,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Due reports whether tx is old enough and unsettled enough to poll.
func (p *Poller) Due(tx models.Transaction) bool {
	return !tx.Status.IsTerminal() && tx.Age(p.now()) >= p.grace
}

// Resolve polls the destination once and settles tx when the answer is
// final. Without an answer tx is left alone until the resolution window is
// spent, after which it is failed and compensated.
func (p *Poller) Resolve(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if !p.Due(tx) {
		return tx, nil
	}
	age := tx.Age(p.now())
	log := p.logger.With(
		zap.String("instruction_id", tx.InstructionID),
		zap.String("status", string(tx.Status)),
		zap.Duration("age", age))

	status, err := p.query(ctx, tx)
	if err != nil {
		log.Warn("status query failed", zap.Error(err))
	}

	switch status {
	case models.CallbackCompleted:
		if !tx.DebitPosted {
			log.Warn("destination confirmed a transfer whose origin debit is not posted")
			break
		}
		log.Info("destination confirmed completion")
		metrics.Resolution("completed")
		return p.settler.Complete(ctx, tx)
	case models.CallbackFailed:
		log.Info("destination reported failure")
		metrics.Resolution("failed")
		return p.settler.Fail(ctx, tx, models.ReasonTechnical)
	case models.CallbackRejected:
		log.Info("destination reported rejection")
		metrics.Resolution("rejected")
		return p.settler.Reject(ctx, tx, models.ReasonTechnical)
	}

	if age > p.window {
		log.Warn("resolution window elapsed, failing transaction", zap.Duration("window", p.window))
		metrics.Resolution("expired")
		return p.settler.Fail(ctx, tx, models.ReasonTechnical)
	}
	metrics.Resolution("pending")
	return tx, nil
}

func (p *Poller) query(ctx context.Context, tx models.Transaction) (models.CallbackStatus, error) {
	bank, err := p.directory.Institution(ctx, tx.DestinationBankID)
	if err != nil {
		return "", err
	}
	return p.banks.QueryStatus(ctx, bank, tx.InstructionID)
}
