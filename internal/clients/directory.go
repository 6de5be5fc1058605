package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// DirectoryClient reads participant metadata and reports delivery failures.
type DirectoryClient struct {
	restClient
}

func NewDirectoryClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *DirectoryClient {
	return &DirectoryClient{restClient: newRestClient("directory", baseURL, httpClient, logger)}
}

type institutionResponse struct {
	BIC               string `json:"codigoBic"`
	Name              string `json:"nombre"`
	WebhookURL        string `json:"urlDestino"`
	PublicKey         string `json:"llavePublica"`
	OperationalStatus string `json:"estadoOperativo"`
	CircuitOpen       bool   `json:"interruptorAbierto"`
}

func (r institutionResponse) toModel() models.Institution {
	return models.Institution{
		BIC:               r.BIC,
		Name:              r.Name,
		OperationalStatus: r.OperationalStatus,
		WebhookURL:        r.WebhookURL,
		PublicKey:         r.PublicKey,
		CircuitOpen:       r.CircuitOpen,
	}
}

// Institution fetches a bank by BIC. Unknown banks yield AC01.
func (c *DirectoryClient) Institution(ctx context.Context, bic string) (models.Institution, error) {
	var resp institutionResponse
	err := c.call(ctx, http.MethodGet, c.baseURL+"/api/v1/instituciones/"+url.PathEscape(bic), nil, &resp)
	if err != nil {
		if IsNotFound(err) {
			return models.Institution{}, models.WrapSwitchError(models.ReasonInvalidAccount,
				fmt.Errorf("%w: %v", models.ErrNotFound, err), "bank %s is not registered", bic)
		}
		return models.Institution{}, models.WrapSwitchError(models.ReasonTechnical, err, "directory lookup for %s failed", bic)
	}
	return resp.toModel(), nil
}

// LookupByRoutingPrefix returns the bank owning an account BIN. Unknown prefixes yield BE01.
func (c *DirectoryClient) LookupByRoutingPrefix(ctx context.Context, prefix string) (models.Institution, error) {
	var resp institutionResponse
	err := c.call(ctx, http.MethodGet, c.baseURL+"/api/v1/lookup/"+url.PathEscape(prefix), nil, &resp)
	if err != nil {
		if IsNotFound(err) {
			return models.Institution{}, models.WrapSwitchError(models.ReasonRoutingMismatch,
				fmt.Errorf("%w: %v", models.ErrNotFound, err), "routing prefix %s is not registered", prefix)
		}
		return models.Institution{}, models.WrapSwitchError(models.ReasonTechnical, err, "routing lookup for %s failed", prefix)
	}
	return resp.toModel(), nil
}

// ReportFailure feeds the directory's breaker. Errors are only logged.
func (c *DirectoryClient) ReportFailure(ctx context.Context, bic, reason string) {
	endpoint := c.baseURL + "/api/v1/instituciones/" + url.PathEscape(bic) + "/reportar-fallo"
	if reason != "" {
		endpoint += "?motivo=" + url.QueryEscape(reason)
	}
	if err := c.call(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		c.logger.Warn("could not report failure to directory",
			zap.String("bic", bic),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

var _ interfaces.Directory = (*DirectoryClient)(nil)
