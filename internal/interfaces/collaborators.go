package interfaces

import (
	"context"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
)

// Ledger posts and reverses settlement-account movements.
// Errors are *models.SwitchError carrying AM04, AC04, AG01 or MS03.
type Ledger interface {
	Post(ctx context.Context, posting models.LedgerPosting) error
	Reverse(ctx context.Context, reversal models.LedgerReversal) error
}

// Directory describes participants and owns their circuit-breaker state.
type Directory interface {
	Institution(ctx context.Context, bic string) (models.Institution, error)
	LookupByRoutingPrefix(ctx context.Context, prefix string) (models.Institution, error)
	ReportFailure(ctx context.Context, bic, reason string)
}

// Clearing accumulates net positions for the open settlement cycle. Fire and forget.
type Clearing interface {
	Accumulate(ctx context.Context, bic string, amount decimal.Decimal, isDebit bool)
}

// ReturnsRegistry is the audit service for returns.
type ReturnsRegistry interface {
	Register(ctx context.Context, rec models.ReturnRecord) error
	UpdateStatus(ctx context.Context, returnID, status string) error
}

// BankGateway talks to participant banks directly.
type BankGateway interface {
	// Deliver posts the instruction to the bank's webhook and returns the HTTP status.
	Deliver(ctx context.Context, bank models.Institution, instruction models.Instruction) (int, string, error)
	QueryStatus(ctx context.Context, bank models.Institution, instructionID string) (models.CallbackStatus, error)
	NotifyReturn(ctx context.Context, bank models.Institution, notice models.ReturnRequest) error
	NotifyStatus(ctx context.Context, bank models.Institution, report models.StatusReport) error
	// LookupAccount proxies an acmt.023 account check to the bank.
	LookupAccount(ctx context.Context, bank models.Institution, accountID string) (models.AccountLookupResult, error)
}
