package clients

import (
	"context"
	"errors"
	"net/http"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerClient posts movements to the settlement ledger service.
type LedgerClient struct {
	restClient
}

func NewLedgerClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *LedgerClient {
	return &LedgerClient{restClient: newRestClient("ledger", baseURL, httpClient, logger)}
}

type movementRequest struct {
	BIC       string          `json:"codigoBic"`
	Reference string          `json:"idInstruccion"`
	Amount    decimal.Decimal `json:"monto"`
	Direction string          `json:"tipo"`
}

type reversalRequest struct {
	Header struct {
		MessageID string `json:"messageId"`
	} `json:"header"`
	Body struct {
		ReturnInstructionID   string        `json:"returnInstructionId"`
		OriginalInstructionID string        `json:"originalInstructionId"`
		ReturnReason          string        `json:"returnReason"`
		ReturnAmount          models.Amount `json:"returnAmount"`
	} `json:"body"`
}

// Post debits or credits a participant's settlement account.
// A rejected posting is classified from the ledger's message, defaulting to AM04.
func (c *LedgerClient) Post(ctx context.Context, posting models.LedgerPosting) error {
	req := movementRequest{
		BIC:       posting.BIC,
		Reference: posting.Reference,
		Amount:    posting.Amount,
		Direction: string(posting.Direction),
	}

	err := c.call(ctx, http.MethodPost, c.baseURL+"/api/v1/ledger/movimientos", req, nil)
	if err == nil {
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) && se.ClientError() {
		code := models.NormalizeReason(se.Body)
		if code == models.ReasonTechnical {
			code = models.ReasonInsufficientFunds
		}
		return models.WrapSwitchError(code, err, "ledger rejected %s of %s for %s", posting.Direction, posting.Amount, posting.BIC)
	}
	return models.WrapSwitchError(models.ReasonTechnical, err, "ledger unavailable")
}

// Reverse undoes a completed transfer. 4xx answers become AG01.
func (c *LedgerClient) Reverse(ctx context.Context, reversal models.LedgerReversal) error {
	var req reversalRequest
	req.Header.MessageID = reversal.ReturnID
	req.Body.ReturnInstructionID = reversal.ReturnID
	req.Body.OriginalInstructionID = reversal.OriginalInstructionID
	req.Body.ReturnReason = reversal.Reason
	req.Body.ReturnAmount = models.Amount{Value: reversal.Amount, Currency: reversal.Currency}

	err := c.call(ctx, http.MethodPost, c.baseURL+"/api/v1/ledger/v2/switch/transfers/return", req, nil)
	if err == nil {
		return nil
	}
	if IsClientError(err) {
		return models.WrapSwitchError(models.ReasonForbidden, err, "ledger rejected reversal of %s", reversal.OriginalInstructionID)
	}
	return models.WrapSwitchError(models.ReasonTechnical, err, "ledger unavailable for reversal")
}

var _ interfaces.Ledger = (*LedgerClient)(nil)
