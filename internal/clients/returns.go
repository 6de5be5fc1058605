package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// ReturnsClient registers returns with the audit service.
type ReturnsClient struct {
	restClient
}

func NewReturnsClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *ReturnsClient {
	return &ReturnsClient{restClient: newRestClient("returns", baseURL, httpClient, logger)}
}

type registerReturnRequest struct {
	ID                    string `json:"id"`
	OriginalInstructionID string `json:"idInstruccionOriginal"`
	ReasonCode            string `json:"codigoMotivo"`
	Status                string `json:"estado"`
}

// Register records a return before money moves. A rejected reason (4xx) is
// RC01, anything else MS03.
func (c *ReturnsClient) Register(ctx context.Context, rec models.ReturnRecord) error {
	req := registerReturnRequest{
		ID:                    rec.ReturnID,
		OriginalInstructionID: rec.OriginalInstructionID,
		ReasonCode:            rec.ReasonCode,
		Status:                rec.Status,
	}
	err := c.call(ctx, http.MethodPost, c.baseURL+"/api/v1/devoluciones", req, nil)
	if err == nil {
		return nil
	}
	if IsClientError(err) {
		return models.WrapSwitchError(models.ReasonMalformed, err, "returns registry rejected return %s", rec.ReturnID)
	}
	return models.WrapSwitchError(models.ReasonTechnical, err, "returns registry unavailable")
}

func (c *ReturnsClient) UpdateStatus(ctx context.Context, returnID, status string) error {
	endpoint := c.baseURL + "/api/v1/devoluciones/" + url.PathEscape(returnID) + "/estado?estado=" + url.QueryEscape(status)
	return c.call(ctx, http.MethodPut, endpoint, nil, nil)
}

var _ interfaces.ReturnsRegistry = (*ReturnsClient)(nil)
