package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

const (
	TransferExchange   = "ex.transfers.tx"
	DeadLetterExchange = "ex.transfers.dlx"

	// DefaultMessageTTL is how long an instruction waits in a bank queue before dead-lettering.
	DefaultMessageTTL = 60 * time.Second
)

// InboundQueue is the queue a bank consumes instructions from.
func InboundQueue(bic string) string { return "q.bank." + bic + ".in" }

// DeadLetterQueue collects instructions the bank never consumed.
func DeadLetterQueue(bic string) string { return "q.bank." + bic + ".dlq" }

// AMQPChannel is the part of *amqp.Channel the publisher needs.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueSender publishes instructions to a durable per-bank queue. The final
// outcome arrives later through the bank's callback.
type QueueSender struct {
	ch         AMQPChannel
	messageTTL time.Duration
	logger     *zap.Logger
}

func NewQueueSender(ch AMQPChannel, messageTTL time.Duration, logger *zap.Logger) *QueueSender {
	if messageTTL <= 0 {
		messageTTL = DefaultMessageTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueSender{ch: ch, messageTTL: messageTTL, logger: logger}
}

func (s *QueueSender) Mode() Mode { return ModeQueue }

// Send declares the bank's topology and publishes the instruction, keyed by BIC.
func (s *QueueSender) Send(ctx context.Context, bank models.Institution, instruction models.Instruction) Result {
	if err := s.DeclareBankTopology(bank.BIC); err != nil {
		s.logger.Error("queue topology declaration failed", zap.String("bic", bank.BIC), zap.Error(err))
		return Result{Outcome: Failed, Reason: models.ReasonTechnical, Detail: err.Error()}
	}

	body, err := json.Marshal(instruction)
	if err != nil {
		return Result{Outcome: Failed, Reason: models.ReasonTechnical, Detail: err.Error()}
	}

	messageID := instruction.Header.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: instruction.Body.InstructionID,
		Timestamp:     time.Now().UTC(),
		Type:          "pacs.008",
		Body:          body,
	}

	if err := s.ch.PublishWithContext(ctx, TransferExchange, bank.BIC, false, false, msg); err != nil {
		s.logger.Error("publish to bank queue failed",
			zap.String("bic", bank.BIC),
			zap.String("instruction_id", instruction.Body.InstructionID),
			zap.Error(err))
		return Result{Outcome: Failed, Attempts: 1, Reason: models.ReasonTechnical, Detail: err.Error()}
	}

	s.logger.Info("instruction queued",
		zap.String("instruction_id", instruction.Body.InstructionID),
		zap.String("queue", InboundQueue(bank.BIC)))
	return Result{Outcome: Queued, Attempts: 1}
}

// DeclareBankTopology declares the shared exchanges and the bank's inbound and
// dead-letter queues. Redeclaring identical topology is a no-op for the broker.
func (s *QueueSender) DeclareBankTopology(bic string) error {
	if err := s.ch.ExchangeDeclare(TransferExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", TransferExchange, err)
	}
	if err := s.ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}

	inArgs := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": bic,
		"x-message-ttl":             s.messageTTL.Milliseconds(),
	}
	if _, err := s.ch.QueueDeclare(InboundQueue(bic), true, false, false, false, inArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", InboundQueue(bic), err)
	}
	if err := s.ch.QueueBind(InboundQueue(bic), bic, TransferExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", InboundQueue(bic), err)
	}

	if _, err := s.ch.QueueDeclare(DeadLetterQueue(bic), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue(bic), err)
	}
	if err := s.ch.QueueBind(DeadLetterQueue(bic), bic, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadLetterQueue(bic), err)
	}
	return nil
}

var (
	_ Sender      = (*QueueSender)(nil)
	_ Sender      = (*WebhookSender)(nil)
	_ AMQPChannel = (*amqp.Channel)(nil)
)
