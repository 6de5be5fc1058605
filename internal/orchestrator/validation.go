package orchestrator

import (
	"context"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// validate applies the rules a transaction must pass before the origin is
// debited and returns the destination as the directory describes it.
func (o *Orchestrator) validate(ctx context.Context, tx models.Transaction, instruction models.Instruction) (models.Institution, error) {
	if !o.policy.allows(tx.Currency) {
		return models.Institution{}, models.NewSwitchError(models.ReasonUnsupportedCurrency, "currency %s is not supported", tx.Currency)
	}
	if o.policy.MaxAmount.IsPositive() && tx.Amount.GreaterThan(o.policy.MaxAmount) {
		return models.Institution{}, models.NewSwitchError(models.ReasonAmountExceeded,
			"amount %s exceeds the limit of %s", tx.Amount, o.policy.MaxAmount)
	}

	if err := o.validateRouting(ctx, instruction.RoutingPrefix(), tx.DestinationBankID); err != nil {
		return models.Institution{}, err
	}

	if _, err := o.eligibleBank(ctx, tx.OriginBankID, false); err != nil {
		return models.Institution{}, err
	}
	return o.eligibleBank(ctx, tx.DestinationBankID, true)
}

// validateRouting checks that the creditor account's BIN belongs to the
// claimed destination. A mismatch is rejected, never corrected.
func (o *Orchestrator) validateRouting(ctx context.Context, prefix, destination string) error {
	owner, err := o.deps.Directory.LookupByRoutingPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	if owner.BIC != destination {
		o.logger.Warn("routing mismatch",
			zap.String("prefix", prefix),
			zap.String("owner", owner.BIC),
			zap.String("claimed", destination))
		return models.NewSwitchError(models.ReasonRoutingMismatch,
			"creditor account does not belong to %s", destination)
	}
	return nil
}

func (o *Orchestrator) eligibleBank(ctx context.Context, bic string, receiving bool) (models.Institution, error) {
	bank, err := o.deps.Directory.Institution(ctx, bic)
	if err != nil {
		return models.Institution{}, err
	}
	if bank.Unavailable() {
		return models.Institution{}, models.NewSwitchError(models.ReasonTechnical,
			"bank %s is not available (%s)", bic, bank.OperationalStatus)
	}
	if bank.ReceiveOnly() && !receiving {
		return models.Institution{}, models.NewSwitchError(models.ReasonForbidden,
			"bank %s is receive-only and cannot originate transfers", bic)
	}
	return bank, nil
}
