package models

import (
	"errors"
	"fmt"
	"strings"
)

// ReasonCode is an ISO 20022 style status reason.
type ReasonCode string

const (
	ReasonInvalidAccount      ReasonCode = "AC01"
	ReasonUnsupportedCurrency ReasonCode = "AC03"
	ReasonClosedAccount       ReasonCode = "AC04"
	ReasonPartialReturn       ReasonCode = "AC09"
	ReasonForbidden           ReasonCode = "AG01"
	ReasonInsufficientFunds   ReasonCode = "AM04"
	ReasonRoutingMismatch     ReasonCode = "BE01"
	ReasonAmountExceeded      ReasonCode = "CH03"
	ReasonDuplicate           ReasonCode = "DUPL"
	ReasonTechnical           ReasonCode = "MS03"
	ReasonMalformed           ReasonCode = "RC01"
)

var allReasons = []ReasonCode{
	ReasonInvalidAccount, ReasonUnsupportedCurrency, ReasonClosedAccount, ReasonPartialReturn,
	ReasonForbidden, ReasonInsufficientFunds, ReasonRoutingMismatch, ReasonAmountExceeded,
	ReasonDuplicate, ReasonTechnical, ReasonMalformed,
}

var reasonDescriptions = map[ReasonCode]string{
	ReasonInvalidAccount:      "invalid account number",
	ReasonUnsupportedCurrency: "unsupported currency",
	ReasonClosedAccount:       "account closed or nonexistent",
	ReasonPartialReturn:       "partial return not allowed",
	ReasonForbidden:           "operation forbidden",
	ReasonInsufficientFunds:   "insufficient funds",
	ReasonRoutingMismatch:     "routing mismatch",
	ReasonAmountExceeded:      "amount exceeds configured ceiling",
	ReasonDuplicate:           "duplicate instruction",
	ReasonTechnical:           "unclassified technical failure",
	ReasonMalformed:           "malformed or missing mandatory field",
}

// Description returns a human readable explanation of the code.
func (r ReasonCode) Description() string {
	if d, ok := reasonDescriptions[r]; ok {
		return d
	}
	return reasonDescriptions[ReasonTechnical]
}

// Known reports whether r belongs to the taxonomy.
func (r ReasonCode) Known() bool {
	_, ok := reasonDescriptions[r]
	return ok
}

// bank and ledger texts seen in the wild, checked in order
var knownBankErrors = []struct {
	needle string
	code   ReasonCode
}{
	{"Error 99", ReasonInsufficientFunds},
	{"Saldo Insuficiente", ReasonInsufficientFunds},
	{"INSUFFICIENT_FUNDS", ReasonInsufficientFunds},
	{"Cuenta Cerrada", ReasonClosedAccount},
	{"Cte Cerrada", ReasonClosedAccount},
	{"Account Not Found", ReasonClosedAccount},
	{"DUPL", ReasonDuplicate},
	{"System Error", ReasonTechnical},
	{"TIMEOUT", ReasonTechnical},
	{"999", ReasonTechnical},
}

// NormalizeReason maps free text returned by a bank or the ledger onto the taxonomy.
// Unclassified input yields MS03.
func NormalizeReason(raw string) ReasonCode {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ReasonTechnical
	}
	for _, known := range knownBankErrors {
		if strings.Contains(raw, known.needle) {
			return known.code
		}
	}
	for _, code := range allReasons {
		if strings.Contains(raw, string(code)) {
			return code
		}
	}
	return ReasonTechnical
}

var (
	// ErrIntegrityViolation is returned when an instruction id is reused with different content.
	ErrIntegrityViolation = errors.New("integrity violation: same instruction id, different content fingerprint")
	// ErrNotFound is returned by stores and collaborators for missing records.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConcurrentUpdate is returned when another writer moved a transaction first.
	ErrConcurrentUpdate = errors.New("transaction status changed concurrently")
)

// SwitchError carries a reason code through the call chain.
type SwitchError struct {
	Code    ReasonCode
	Message string
	Err     error
}

// NewSwitchError builds a SwitchError with a formatted message.
func NewSwitchError(code ReasonCode, format string, args ...any) *SwitchError {
	return &SwitchError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapSwitchError attaches a code to an underlying cause.
func WrapSwitchError(code ReasonCode, err error, format string, args ...any) *SwitchError {
	return &SwitchError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *SwitchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s - %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s - %s", e.Code, e.Message)
}

func (e *SwitchError) Unwrap() error { return e.Err }

// ReasonOf extracts the reason code from err, defaulting to MS03.
func ReasonOf(err error) ReasonCode {
	if err == nil {
		return ""
	}
	var se *SwitchError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, ErrIntegrityViolation) {
		return ReasonDuplicate
	}
	return ReasonTechnical
}
