package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClearingClient reports net-position legs to the settlement-cycle service.
type ClearingClient struct {
	restClient
}

func NewClearingClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *ClearingClient {
	return &ClearingClient{restClient: newRestClient("clearing", baseURL, httpClient, logger)}
}

// Accumulate adds a debit or credit leg to bic's position in the open cycle.
// A failure leaves the clearing position out of balance, so it is logged at Error.
func (c *ClearingClient) Accumulate(ctx context.Context, bic string, amount decimal.Decimal, isDebit bool) {
	q := url.Values{}
	q.Set("bic", bic)
	q.Set("monto", amount.String())
	q.Set("esDebito", strconv.FormatBool(isDebit))

	if err := c.call(ctx, http.MethodPost, c.baseURL+"/api/v1/compensacion/acumular?"+q.Encode(), nil, nil); err != nil {
		c.logger.Error("clearing accumulation failed, position out of balance",
			zap.String("bic", bic),
			zap.String("amount", amount.String()),
			zap.Bool("is_debit", isDebit),
			zap.Error(err))
	}
}

// CloseCycle closes a settlement cycle and opens the next one lasting nextCycleMinutes.
func (c *ClearingClient) CloseCycle(ctx context.Context, cycleID int64, nextCycleMinutes int) error {
	q := url.Values{}
	q.Set("minutosProximoCiclo", strconv.Itoa(nextCycleMinutes))
	endpoint := c.baseURL + "/api/v1/compensacion/ciclos/" + strconv.FormatInt(cycleID, 10) + "/cierre?" + q.Encode()
	return c.call(ctx, http.MethodPost, endpoint, nil, nil)
}

var _ interfaces.Clearing = (*ClearingClient)(nil)
