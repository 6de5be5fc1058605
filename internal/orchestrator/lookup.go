package orchestrator

import (
	"context"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// LookupAccount forwards an account check to the target bank. Directory
// refusals are errors. An unreachable bank yields a FAILED result instead.
func (o *Orchestrator) LookupAccount(ctx context.Context, req models.AccountLookupRequest) (models.AccountLookupResult, error) {
	if err := req.Validate(); err != nil {
		return models.AccountLookupResult{}, err
	}
	log := o.logger.With(
		zap.String("target_bank", req.Body.TargetBankID),
		zap.String("origin_bank", req.Header.OriginatingBankID))

	bank, err := o.eligibleBank(ctx, req.Body.TargetBankID, true)
	if err != nil {
		log.Info("account lookup refused", zap.Error(err))
		return models.AccountLookupResult{}, err
	}

	res, err := o.deps.Banks.LookupAccount(ctx, bank, req.Body.TargetAccountNumber)
	if err != nil {
		log.Error("account lookup failed", zap.Error(err))
		return models.UnreachableLookup(err), nil
	}
	log.Info("account lookup answered", zap.String("status", res.Status), zap.Bool("exists", res.Data.Exists))
	return res, nil
}
