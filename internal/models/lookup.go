package models

import "strings"

// AccountLookupRequest asks whether an account exists at a destination bank (acmt.023).
type AccountLookupRequest struct {
	Header LookupHeader `json:"header"`
	Body   LookupBody   `json:"body"`
}

type LookupHeader struct {
	OriginatingBankID string `json:"originatingBankId"`
	MessageID         string `json:"messageId"`
}

type LookupBody struct {
	TargetBankID        string `json:"targetBankId"`
	TargetAccountNumber string `json:"targetAccountNumber"`
}

func (r AccountLookupRequest) Validate() error {
	if strings.TrimSpace(r.Body.TargetBankID) == "" {
		return NewSwitchError(ReasonMalformed, "body.targetBankId is mandatory")
	}
	if strings.TrimSpace(r.Body.TargetAccountNumber) == "" {
		return NewSwitchError(ReasonMalformed, "body.targetAccountNumber is mandatory")
	}
	return nil
}

// Lookup result statuses set by the switch. Banks may answer with their own.
const (
	LookupFailed = "FAILED"
)

// AccountLookupResult is the destination bank's answer, passed through as received.
type AccountLookupResult struct {
	Status string     `json:"status"`
	Data   LookupData `json:"data"`
}

type LookupData struct {
	Exists      bool   `json:"exists"`
	OwnerName   string `json:"ownerName,omitempty"`
	AccountName string `json:"accountName,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"mensaje,omitempty"`
}

// UnreachableLookup is answered when the destination bank could not be asked.
func UnreachableLookup(cause error) AccountLookupResult {
	return AccountLookupResult{
		Status: LookupFailed,
		Data:   LookupData{Exists: false, Message: "communication error: " + cause.Error()},
	}
}
