package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// IdempotencyRecord is the durable copy of a guard entry.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Status      string
	Response    json.RawMessage // nil while the instruction is still processing
	ExpiresAt   time.Time
}

// Expired reports whether the record is past its retention.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Return statuses tracked by the audit registry.
const (
	ReturnReceived = "RECEIVED"
	ReturnReversed = "REVERSED"
	ReturnFailed   = "FAILED"
)

// ReturnRecord links a return to the instruction it reverses.
type ReturnRecord struct {
	ReturnID              string
	OriginalInstructionID string
	ReasonCode            string
	Amount                decimal.Decimal
	Currency              string
	Status                string
	CreatedAt             time.Time
}

// Result statuses of a return request.
const (
	ReturnResultReversed         = "REVERSED"
	ReturnResultAlreadyReversed  = "ALREADY_REVERSED"
	ReturnResultAlreadyProcessed = "RETURN_ALREADY_PROCESSED"
)

// ReturnResult is what the caller of a return receives.
type ReturnResult struct {
	ReturnID              string `json:"returnId"`
	OriginalInstructionID string `json:"originalInstructionId"`
	Status                string `json:"status"`
	AlreadyProcessed      bool   `json:"alreadyProcessed"`
	Message               string `json:"message,omitempty"`
}

// Bank operational states published by the directory.
const (
	BankOnline      = "ONLINE"
	BankReceiveOnly = "SOLO_RECIBIR"
	BankSuspended   = "SUSPENDIDO"
	BankMaintenance = "MANT"
	BankOffline     = "OFFLINE"
)

// Institution is a participant as described by the directory.
type Institution struct {
	BIC               string `json:"bic"`
	Name              string `json:"name"`
	OperationalStatus string `json:"operationalStatus"`
	WebhookURL        string `json:"webhookUrl"`
	PublicKey         string `json:"publicKey,omitempty"`
	CircuitOpen       bool   `json:"circuitOpen"`
}

// Unavailable reports a bank that can neither send nor receive.
func (i Institution) Unavailable() bool {
	switch i.OperationalStatus {
	case BankSuspended, BankMaintenance, BankOffline:
		return true
	}
	return false
}

// ReceiveOnly reports a bank that may not originate transfers.
func (i Institution) ReceiveOnly() bool {
	return i.OperationalStatus == BankReceiveOnly
}

// Direction of a ledger posting.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// LedgerPosting moves money on a participant's settlement account.
type LedgerPosting struct {
	BIC       string          `json:"bic"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Direction Direction       `json:"direction"`
}

// LedgerReversal undoes a completed transfer on the ledger.
type LedgerReversal struct {
	ReturnID              string          `json:"returnId"`
	OriginalInstructionID string          `json:"originalInstructionId"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Reason                string          `json:"reason"`
}
