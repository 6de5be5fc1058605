package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
)

// Fingerprint hashes the financial content of an instruction. Two submissions
// with the same instruction id must produce the same fingerprint or they are
// treated as tampered.
func Fingerprint(in models.Instruction) string {
	return digest(
		in.Body.InstructionID,
		canonicalAmount(in.Body.Amount.Value),
		strings.ToUpper(in.Body.Amount.Currency),
		in.Header.OriginatingBankID,
		in.Body.Creditor.TargetBankID,
		in.Header.CreationDateTime,
		in.Body.Debtor.AccountID,
		in.Body.Creditor.AccountID,
	)
}

// ReturnFingerprint hashes the content of a return request.
func ReturnFingerprint(r models.ReturnRequest) string {
	return digest(
		r.Header.MessageID,
		r.Body.OriginalInstructionID,
		canonicalAmount(r.Body.ReturnAmount.Value),
		strings.ToUpper(r.Body.ReturnAmount.Currency),
	)
}

// NetworkReference derives the switch's trace reference from transaction
// content, so a replay recomputes the same value.
func NetworkReference(in models.Instruction) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		canonicalAmount(in.Body.Amount.Value),
		in.Header.OriginatingBankID,
		in.Body.Creditor.TargetBankID,
		in.Header.CreationDateTime,
		in.Body.Debtor.AccountID,
		in.Body.Creditor.AccountID,
	}, "|")))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}

// InstructionKey is the guard key of an original instruction.
func InstructionKey(instructionID string) string {
	return "idem:" + instructionID
}

// ReturnKey is the guard key of a return, independent of the original's key.
func ReturnKey(returnMessageID string) string {
	return "idem:return:" + returnMessageID
}

// 100, 100.0 and 100.00 are the same amount
func canonicalAmount(v decimal.Decimal) string {
	return v.String()
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
