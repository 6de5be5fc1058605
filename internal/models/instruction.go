package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Instruction is an inbound pacs.008 style credit transfer.
type Instruction struct {
	Header InstructionHeader `json:"header"`
	Body   InstructionBody   `json:"body"`
}

type InstructionHeader struct {
	MessageID         string `json:"messageId"`
	CreationDateTime  string `json:"creationDateTime"`
	OriginatingBankID string `json:"originatingBankId"`
}

type InstructionBody struct {
	InstructionID         string `json:"instructionId"`
	EndToEndID            string `json:"endToEndId,omitempty"`
	Amount                Amount `json:"amount"`
	Debtor                Party  `json:"debtor"`
	Creditor              Party  `json:"creditor"`
	RemittanceInformation string `json:"remittanceInformation,omitempty"`
}

// Amount is a value with its ISO currency.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Party is a debtor or creditor. Only the creditor carries TargetBankID.
type Party struct {
	Name         string `json:"name,omitempty"`
	AccountID    string `json:"accountId"`
	AccountType  string `json:"accountType,omitempty"`
	TargetBankID string `json:"targetBankId,omitempty"`
}

// Validate checks the mandatory fields. Business rules (currency, ceiling,
// routing) are applied later by the orchestrator against a stored transaction.
func (i Instruction) Validate() error {
	missing := make([]string, 0, 4)
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	check("header.messageId", i.Header.MessageID)
	check("header.originatingBankId", i.Header.OriginatingBankID)
	check("header.creationDateTime", i.Header.CreationDateTime)
	check("body.instructionId", i.Body.InstructionID)
	check("body.amount.currency", i.Body.Amount.Currency)
	check("body.debtor.accountId", i.Body.Debtor.AccountID)
	check("body.creditor.accountId", i.Body.Creditor.AccountID)
	check("body.creditor.targetBankId", i.Body.Creditor.TargetBankID)

	if len(missing) > 0 {
		return NewSwitchError(ReasonMalformed, "missing mandatory fields: %s", strings.Join(missing, ", "))
	}
	if !i.Body.Amount.Value.IsPositive() {
		return NewSwitchError(ReasonMalformed, "amount must be positive, got %s", i.Body.Amount.Value)
	}
	return nil
}

// RoutingPrefix is the BIN of the creditor account used to discover its owning bank.
func (i Instruction) RoutingPrefix() string {
	const binLength = 6
	account := strings.TrimSpace(i.Body.Creditor.AccountID)
	if len(account) < binLength {
		return "000000"
	}
	return account[:binLength]
}

// CallbackStatus is the outcome a destination bank reports.
type CallbackStatus string

const (
	CallbackCompleted CallbackStatus = "COMPLETED"
	CallbackRejected  CallbackStatus = "REJECTED"
	CallbackFailed    CallbackStatus = "FAILED"
)

// StatusReport is the pacs.002 style callback sent by the destination bank.
type StatusReport struct {
	Header StatusReportHeader `json:"header"`
	Body   StatusReportBody   `json:"body"`
}

type StatusReportHeader struct {
	MessageID        string `json:"messageId"`
	CreationDateTime string `json:"creationDateTime"`
	RespondingBankID string `json:"respondingBankId"`
}

type StatusReportBody struct {
	OriginalInstructionID string         `json:"originalInstructionId"`
	OriginalMessageID     string         `json:"originalMessageId,omitempty"`
	Status                CallbackStatus `json:"status"`
	ReasonCode            string         `json:"reasonCode,omitempty"`
	ReasonDescription     string         `json:"reasonDescription,omitempty"`
	ProcessedDateTime     string         `json:"processedDateTime,omitempty"`
}

// Validate checks the fields the switch relies on.
func (r StatusReport) Validate() error {
	if strings.TrimSpace(r.Body.OriginalInstructionID) == "" {
		return NewSwitchError(ReasonMalformed, "body.originalInstructionId is mandatory")
	}
	if strings.TrimSpace(r.Header.RespondingBankID) == "" {
		return NewSwitchError(ReasonMalformed, "header.respondingBankId is mandatory")
	}
	switch r.Body.Status {
	case CallbackCompleted, CallbackRejected:
	default:
		return NewSwitchError(ReasonMalformed, "status %q is not one of COMPLETED, REJECTED", r.Body.Status)
	}
	return nil
}

// ReturnRequest is a pacs.004 style return of a completed transfer.
type ReturnRequest struct {
	Header ReturnHeader `json:"header"`
	Body   ReturnBody   `json:"body"`
}

type ReturnHeader struct {
	MessageID         string `json:"messageId"`
	CreationDateTime  string `json:"creationDateTime"`
	OriginatingBankID string `json:"originatingBankId"`
}

type ReturnBody struct {
	ReturnInstructionID   string `json:"returnInstructionId,omitempty"`
	OriginalInstructionID string `json:"originalInstructionId"`
	ReturnReason          string `json:"returnReason"`
	ReturnAmount          Amount `json:"returnAmount"`
}

// Validate checks the mandatory fields of a return.
func (r ReturnRequest) Validate() error {
	if strings.TrimSpace(r.Body.OriginalInstructionID) == "" {
		return NewSwitchError(ReasonMalformed, "body.originalInstructionId is mandatory")
	}
	if strings.TrimSpace(r.Header.MessageID) == "" {
		return NewSwitchError(ReasonMalformed, "header.messageId is mandatory")
	}
	if !r.Body.ReturnAmount.Value.IsPositive() {
		return NewSwitchError(ReasonMalformed, "returnAmount must be positive")
	}
	return nil
}
