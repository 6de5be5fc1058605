package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// DefaultSchedule is the wait before each attempt. Four attempts, 6.8s of backoff at most.
var DefaultSchedule = []time.Duration{0, 800 * time.Millisecond, 2 * time.Second, 4 * time.Second}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepWithContext is the default SleepFunc.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// WebhookSender posts instructions to the bank synchronously, retrying
// transient failures on a fixed schedule.
type WebhookSender struct {
	gateway   interfaces.BankGateway
	directory interfaces.Directory
	schedule  []time.Duration
	sleep     SleepFunc
	logger    *zap.Logger
}

func NewWebhookSender(gateway interfaces.BankGateway, directory interfaces.Directory, schedule []time.Duration, logger *zap.Logger) *WebhookSender {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{
		gateway:   gateway,
		directory: directory,
		schedule:  schedule,
		sleep:     SleepWithContext,
		logger:    logger,
	}
}

// WithSleep replaces the wait between attempts.
func (s *WebhookSender) WithSleep(sleep SleepFunc) *WebhookSender {
	s.sleep = sleep
	return s
}

func (s *WebhookSender) Mode() Mode { return ModeWebhook }

// Send runs the retry schedule. A 4xx stops at once, a 5xx or transport error
// is reported to the directory and retried.
func (s *WebhookSender) Send(ctx context.Context, bank models.Institution, instruction models.Instruction) Result {
	log := s.logger.With(
		zap.String("instruction_id", instruction.Body.InstructionID),
		zap.String("bic", bank.BIC))

	var lastDetail string
	attempts := 0
	for i, wait := range s.schedule {
		if err := s.sleep(ctx, wait); err != nil {
			log.Warn("delivery retries interrupted", zap.Int("attempts", attempts), zap.Error(err))
			return Result{Outcome: Exhausted, Attempts: attempts, Reason: models.ReasonTechnical, Detail: err.Error()}
		}

		attempts++
		status, body, err := s.gateway.Deliver(ctx, bank, instruction)
		switch {
		case err != nil:
			lastDetail = err.Error()
			log.Warn("delivery attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			s.directory.ReportFailure(ctx, bank.BIC, "TIMEOUT")

		case status >= 200 && status < 300:
			return Result{Outcome: Delivered, Attempts: attempts}

		case status >= 400 && status < 500:
			code := models.NormalizeReason(body)
			log.Info("destination rejected instruction",
				zap.Int("status", status),
				zap.String("reason", string(code)),
				zap.String("body", body))
			return Result{Outcome: Rejected, Attempts: attempts, Reason: code, Detail: body}

		default:
			lastDetail = fmt.Sprintf("status %d: %s", status, body)
			log.Warn("delivery attempt failed", zap.Int("attempt", i+1), zap.Int("status", status))
			if status >= http.StatusInternalServerError {
				s.directory.ReportFailure(ctx, bank.BIC, fmt.Sprintf("HTTP_%d", status))
			}
		}
	}

	log.Error("delivery attempts exhausted", zap.Int("attempts", attempts), zap.String("last_error", lastDetail))
	return Result{Outcome: Exhausted, Attempts: attempts, Reason: models.ReasonTechnical, Detail: lastDetail}
}
