package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// BankGateway calls participant banks on the webhook registered in the directory.
type BankGateway struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func NewBankGateway(httpClient *http.Client, logger *zap.Logger) *BankGateway {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BankGateway{httpClient: httpClient, logger: logger}
}

// Deliver posts the instruction to the bank. A non-2xx answer is not an error:
// the status and body are returned so the caller can classify them. err is set
// only when no answer was received.
func (g *BankGateway) Deliver(ctx context.Context, bank models.Institution, instruction models.Instruction) (int, string, error) {
	if bank.WebhookURL == "" {
		return 0, "", fmt.Errorf("bank %s has no webhook configured", bank.BIC)
	}
	payload, err := json.Marshal(instruction)
	if err != nil {
		return 0, "", fmt.Errorf("marshal instruction: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, bank.WebhookURL, bank, payload)
	if err != nil {
		return 0, "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("deliver to %s: %w", bank.BIC, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

type bankStatusResponse struct {
	Status string `json:"status"`
	Estado string `json:"estado"`
}

// QueryStatus asks the bank for the outcome of an instruction it may have processed.
func (g *BankGateway) QueryStatus(ctx context.Context, bank models.Institution, instructionID string) (models.CallbackStatus, error) {
	endpoint := strings.TrimRight(bank.WebhookURL, "/") + "/status/" + url.PathEscape(instructionID)
	req, err := g.newRequest(ctx, http.MethodGet, endpoint, bank, nil)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query status at %s: %w", bank.BIC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Service: "bank " + bank.BIC, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var body bankStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode status from %s: %w", bank.BIC, err)
	}
	status := body.Status
	if status == "" {
		status = body.Estado
	}
	if status == "" {
		return "", errors.New("bank status response carried no status")
	}
	return models.CallbackStatus(strings.ToUpper(status)), nil
}

// NotifyReturn tells a bank that a transfer it took part in was reversed.
func (g *BankGateway) NotifyReturn(ctx context.Context, bank models.Institution, notice models.ReturnRequest) error {
	return g.post(ctx, bank, returnWebhookURL(bank.WebhookURL), notice)
}

// NotifyStatus forwards a destination's status report to the originating bank.
func (g *BankGateway) NotifyStatus(ctx context.Context, bank models.Institution, report models.StatusReport) error {
	return g.post(ctx, bank, bank.WebhookURL, report)
}

type lookupMessage struct {
	Header lookupMessageHeader `json:"header"`
	Body   lookupMessageBody   `json:"body"`
}

type lookupMessageHeader struct {
	MessageNamespace  string `json:"messageNamespace"`
	MessageID         string `json:"messageId"`
	OriginatingBankID string `json:"originatingBankId"`
	CreationDateTime  string `json:"creationDateTime"`
}

type lookupMessageBody struct {
	Creditor models.Party `json:"creditor"`
}

// LookupAccount sends an acmt.023 account check to the bank's webhook and
// returns its answer as is.
func (g *BankGateway) LookupAccount(ctx context.Context, bank models.Institution, accountID string) (models.AccountLookupResult, error) {
	if strings.TrimSpace(bank.WebhookURL) == "" {
		return models.AccountLookupResult{}, fmt.Errorf("bank %s has no webhook configured", bank.BIC)
	}
	payload, err := json.Marshal(lookupMessage{
		Header: lookupMessageHeader{
			MessageNamespace:  "acmt.023.001.02",
			MessageID:         "VAL-" + uuid.NewString(),
			OriginatingBankID: "SWITCH",
			CreationDateTime:  time.Now().UTC().Format(time.RFC3339),
		},
		Body: lookupMessageBody{Creditor: models.Party{AccountID: accountID, TargetBankID: bank.BIC}},
	})
	if err != nil {
		return models.AccountLookupResult{}, fmt.Errorf("marshal account lookup: %w", err)
	}
	req, err := g.newRequest(ctx, http.MethodPost, bank.WebhookURL, bank, payload)
	if err != nil {
		return models.AccountLookupResult{}, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return models.AccountLookupResult{}, fmt.Errorf("account lookup at %s: %w", bank.BIC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.AccountLookupResult{}, &StatusError{Service: "bank " + bank.BIC, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var result models.AccountLookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.AccountLookupResult{}, fmt.Errorf("decode account lookup from %s: %w", bank.BIC, err)
	}
	return result, nil
}

func (g *BankGateway) post(ctx context.Context, bank models.Institution, endpoint string, body any) error {
	if strings.TrimSpace(bank.WebhookURL) == "" {
		return fmt.Errorf("bank %s has no webhook configured", bank.BIC)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := g.newRequest(ctx, http.MethodPost, endpoint, bank, payload)
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", bank.BIC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Service: "bank " + bank.BIC, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return nil
}

func (g *BankGateway) newRequest(ctx context.Context, method, endpoint string, bank models.Institution, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", bank.BIC, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bank.PublicKey != "" {
		req.Header.Set("apikey", bank.PublicKey)
	}
	return req, nil
}

// banks with a ".../recepcion" webhook receive returns next to it,
// all others on /api/incoming/return
func returnWebhookURL(webhook string) string {
	webhook = strings.TrimRight(webhook, "/")
	if strings.HasSuffix(webhook, "/recepcion") {
		return webhook + "/return"
	}
	return webhook + "/api/incoming/return"
}

var _ interfaces.BankGateway = (*BankGateway)(nil)
