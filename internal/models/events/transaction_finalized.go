package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFinalized is published when a transaction reaches a terminal status.
type TransactionFinalized struct {
	InstructionID     string          `json:"instruction_id"`
	NetworkReference  string          `json:"network_reference"`
	OriginBankID      string          `json:"origin_bank_id"`
	DestinationBankID string          `json:"destination_bank_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	ErrorCode         string          `json:"error_code,omitempty"`
	Compensated       bool            `json:"compensated"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// TransactionReversed is published after a return has been applied on the ledger.
type TransactionReversed struct {
	ReturnID              string          `json:"return_id"`
	OriginalInstructionID string          `json:"original_instruction_id"`
	ReasonCode            string          `json:"reason_code"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	OccurredAt            time.Time       `json:"occurred_at"`
}
