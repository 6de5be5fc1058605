package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the switch's unit of work for one payment instruction.
// InstructionID is the idempotency key and never changes once created.
type Transaction struct {
	InstructionID     string
	MessageID         string
	NetworkReference  string // derived from content, replays recompute the same value
	Fingerprint       string
	Amount            decimal.Decimal
	Currency          string
	OriginBankID      string
	DestinationBankID string
	DebtorAccount     string
	CreditorAccount   string
	Status            Status
	ErrorCode         ReasonCode // empty when no error has been recorded
	Attempts          int
	DebitPosted       bool
	CompensationRef   string // ledger reference of the compensating credit, if one was posted
	CreatedAt         time.Time
	QueuedAt          sql.NullTime
	CompletedAt       sql.NullTime
}

// TransitionTo moves the transaction to next, stamping QueuedAt/CompletedAt.
// Terminal transactions only leave their state through the reversal edge.
func (t *Transaction) TransitionTo(next Status, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return &TransitionError{From: t.Status, To: next}
	}

	t.Status = next
	switch {
	case next == StatusQueued:
		t.QueuedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	case next.IsTerminal():
		t.CompletedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}
	return nil
}

// AdvanceTo walks the shortest legal path from the current status to target,
// applying every hop. It is used when an outcome is learned late (callback,
// polling) and intermediate states were never observed.
func (t *Transaction) AdvanceTo(target Status, at time.Time) error {
	if t.Status == target {
		return nil
	}
	path := PathBetween(t.Status, target)
	if path == nil {
		return &TransitionError{From: t.Status, To: target}
	}
	for _, hop := range path {
		if err := t.TransitionTo(hop, at); err != nil {
			return err
		}
	}
	return nil
}

// Age reports how long ago the transaction was received.
func (t Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// NeedsCompensation is true when money left the origin and has not been returned yet.
func (t Transaction) NeedsCompensation() bool {
	return t.DebitPosted && t.CompensationRef == ""
}

// View is the response shape returned to callers and cached by the idempotency guard.
func (t Transaction) View() TransactionView {
	v := TransactionView{
		InstructionID:     t.InstructionID,
		MessageID:         t.MessageID,
		NetworkReference:  t.NetworkReference,
		Amount:            t.Amount,
		Currency:          t.Currency,
		OriginBankID:      t.OriginBankID,
		DestinationBankID: t.DestinationBankID,
		Status:            t.Status,
		ErrorCode:         t.ErrorCode,
		CreatedAt:         t.CreatedAt.UTC(),
	}
	if t.QueuedAt.Valid {
		q := t.QueuedAt.Time
		v.QueuedAt = &q
	}
	if t.CompletedAt.Valid {
		c := t.CompletedAt.Time
		v.CompletedAt = &c
	}
	return v
}

// TransactionView is the JSON projection of a Transaction.
type TransactionView struct {
	InstructionID     string          `json:"instructionId"`
	MessageID         string          `json:"messageId"`
	NetworkReference  string          `json:"networkReference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	OriginBankID      string          `json:"originBankId"`
	DestinationBankID string          `json:"destinationBankId"`
	Status            Status          `json:"status"`
	ErrorCode         ReasonCode      `json:"errorCode,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	QueuedAt          *time.Time      `json:"queuedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

// TransactionFilter narrows a transaction listing. Zero values mean "any".
type TransactionFilter struct {
	InstructionID string
	BankID        string // matches origin or destination
	Status        Status
	Limit         int
}

// DefaultListLimit caps listings when no limit is supplied.
const DefaultListLimit = 50
