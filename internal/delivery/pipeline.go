package delivery

import (
	"context"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/metrics"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// Mode is how instructions reach the destination bank.
type Mode string

const (
	ModeWebhook Mode = "webhook"
	ModeQueue   Mode = "queue"
)

// Outcome of a delivery.
type Outcome string

const (
	// Delivered: the bank acknowledged the instruction with a 2xx.
	Delivered Outcome = "delivered"
	// Rejected: the bank refused the instruction with a 4xx.
	Rejected Outcome = "rejected"
	// Exhausted: every scheduled attempt failed, the outcome at the bank is unknown.
	Exhausted Outcome = "exhausted"
	// Unavailable: the destination's breaker is open, nothing was sent.
	Unavailable Outcome = "unavailable"
	// Queued: the instruction was published to the bank's queue.
	Queued Outcome = "queued"
	// Failed: the instruction could not be handed to the transport at all.
	Failed Outcome = "failed"
)

// Result describes what happened to one instruction.
type Result struct {
	Outcome  Outcome
	Attempts int
	Reason   models.ReasonCode // set for Rejected, Exhausted, Unavailable and Failed
	Detail   string
}

// Sender hands an instruction to a destination bank.
type Sender interface {
	Mode() Mode
	Send(ctx context.Context, bank models.Institution, instruction models.Instruction) Result
}

// Pipeline gates a Sender behind the destination's circuit breaker.
type Pipeline struct {
	sender Sender
	logger *zap.Logger
}

func NewPipeline(sender Sender, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{sender: sender, logger: logger}
}

// Mode reports the configured delivery mode.
func (p *Pipeline) Mode() Mode {
	return p.sender.Mode()
}

// Admit checks the breaker the directory reported for bank. When it is open the
// returned Result is Unavailable and no network call must be made.
func (p *Pipeline) Admit(bank models.Institution) (Result, bool) {
	if !bank.CircuitOpen {
		return Result{}, true
	}
	p.logger.Warn("circuit open for destination, delivery skipped", zap.String("bic", bank.BIC))
	res := Result{
		Outcome: Unavailable,
		Reason:  models.ReasonTechnical,
		Detail:  "circuit breaker open for " + bank.BIC,
	}
	p.record(res)
	return res, false
}

// Dispatch sends the instruction through the configured transport.
func (p *Pipeline) Dispatch(ctx context.Context, bank models.Institution, instruction models.Instruction) Result {
	res := p.sender.Send(ctx, bank, instruction)
	p.logger.Info("delivery finished",
		zap.String("instruction_id", instruction.Body.InstructionID),
		zap.String("bic", bank.BIC),
		zap.String("mode", string(p.sender.Mode())),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts))
	p.record(res)
	return res
}

func (p *Pipeline) record(res Result) {
	metrics.DeliveryOutcome(string(p.sender.Mode()), string(res.Outcome), res.Attempts)
}
