package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLedgerPostSendsMovement(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ledger/movimientos", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewLedgerClient(srv.URL, srv.Client(), zap.NewNop())
	err := client.Post(context.Background(), models.LedgerPosting{
		BIC: "BANKAAAA", Reference: "INS-1", Amount: decimal.RequireFromString("10.50"), Direction: models.Debit,
	})
	require.NoError(t, err)
	assert.Equal(t, "BANKAAAA", got["codigoBic"])
	assert.Equal(t, "INS-1", got["idInstruccion"])
	assert.Equal(t, "DEBIT", got["tipo"])
	assert.Equal(t, "10.5", got["monto"])
}

func TestLedgerPostClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   models.ReasonCode
	}{
		{"insufficient funds default", http.StatusBadRequest, "rejected", models.ReasonInsufficientFunds},
		{"closed account text", http.StatusBadRequest, "Cuenta Cerrada", models.ReasonClosedAccount},
		{"server error", http.StatusInternalServerError, "boom", models.ReasonTechnical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewLedgerClient(srv.URL, srv.Client(), zap.NewNop())
			err := client.Post(context.Background(), models.LedgerPosting{BIC: "A", Reference: "R", Amount: decimal.NewFromInt(1), Direction: models.Debit})
			require.Error(t, err)
			assert.Equal(t, tt.want, models.ReasonOf(err))
		})
	}
}

func TestLedgerReverse(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ledger/v2/switch/transfers/return", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()
	client := NewLedgerClient(srv.URL, srv.Client(), zap.NewNop())
	rev := models.LedgerReversal{ReturnID: "RET-1", OriginalInstructionID: "INS-1", Amount: decimal.NewFromInt(5), Currency: "USD"}

	require.NoError(t, client.Reverse(context.Background(), rev))

	status = http.StatusUnprocessableEntity
	assert.Equal(t, models.ReasonForbidden, models.ReasonOf(client.Reverse(context.Background(), rev)))

	status = http.StatusServiceUnavailable
	assert.Equal(t, models.ReasonTechnical, models.ReasonOf(client.Reverse(context.Background(), rev)))
}

func TestDirectoryInstitution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/instituciones/BANKBBBB":
			_, _ = io.WriteString(w, `{"codigoBic":"BANKBBBB","nombre":"Bank B","urlDestino":"http://b/recepcion","llavePublica":"k","estadoOperativo":"ONLINE","interruptorAbierto":true}`)
		case "/api/v1/lookup/270100":
			_, _ = io.WriteString(w, `{"codigoBic":"BANKBBBB","estadoOperativo":"ONLINE"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := NewDirectoryClient(srv.URL, srv.Client(), zap.NewNop())
	ctx := context.Background()

	bank, err := client.Institution(ctx, "BANKBBBB")
	require.NoError(t, err)
	assert.Equal(t, "http://b/recepcion", bank.WebhookURL)
	assert.Equal(t, "k", bank.PublicKey)
	assert.True(t, bank.CircuitOpen)

	_, err = client.Institution(ctx, "UNKNOWN")
	require.Error(t, err)
	assert.Equal(t, models.ReasonInvalidAccount, models.ReasonOf(err))
	assert.ErrorIs(t, err, models.ErrNotFound)

	owner, err := client.LookupByRoutingPrefix(ctx, "270100")
	require.NoError(t, err)
	assert.Equal(t, "BANKBBBB", owner.BIC)

	_, err = client.LookupByRoutingPrefix(ctx, "999999")
	assert.Equal(t, models.ReasonRoutingMismatch, models.ReasonOf(err))
}

func TestDirectoryReportFailure(t *testing.T) {
	var path, reason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		reason = r.URL.Query().Get("motivo")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	NewDirectoryClient(srv.URL, srv.Client(), zap.NewNop()).ReportFailure(context.Background(), "BANKBBBB", "TIMEOUT")
	assert.Equal(t, "/api/v1/instituciones/BANKBBBB/reportar-fallo", path)
	assert.Equal(t, "TIMEOUT", reason)
}

func TestClearingAccumulate(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/compensacion/acumular", r.URL.Path)
		query = map[string]string{
			"bic":      r.URL.Query().Get("bic"),
			"monto":    r.URL.Query().Get("monto"),
			"esDebito": r.URL.Query().Get("esDebito"),
		}
	}))
	defer srv.Close()

	NewClearingClient(srv.URL, srv.Client(), zap.NewNop()).Accumulate(context.Background(), "BANKAAAA", decimal.RequireFromString("100.00"), true)
	assert.Equal(t, map[string]string{"bic": "BANKAAAA", "monto": "100", "esDebito": "true"}, query)
}

func TestReturnsClient(t *testing.T) {
	var registered map[string]string
	var updatedPath, updatedStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			if registered["codigoMotivo"] == "XX99" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodPut:
			updatedPath = r.URL.Path
			updatedStatus = r.URL.Query().Get("estado")
		}
	}))
	defer srv.Close()
	client := NewReturnsClient(srv.URL, srv.Client(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, models.ReturnRecord{ReturnID: "r1", OriginalInstructionID: "INS-1", ReasonCode: "MS03", Status: models.ReturnReceived}))
	assert.Equal(t, "INS-1", registered["idInstruccionOriginal"])
	assert.Equal(t, "RECEIVED", registered["estado"])

	err := client.Register(ctx, models.ReturnRecord{ReturnID: "r2", ReasonCode: "XX99"})
	assert.True(t, IsClientError(err))
	assert.Equal(t, models.ReasonMalformed, models.ReasonOf(err))

	require.NoError(t, client.UpdateStatus(ctx, "r1", models.ReturnReversed))
	assert.Equal(t, "/api/v1/devoluciones/r1/estado", updatedPath)
	assert.Equal(t, "REVERSED", updatedStatus)
}

func TestBankGatewayDeliver(t *testing.T) {
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("apikey")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, "Cuenta Cerrada\n")
	}))
	defer srv.Close()

	gw := NewBankGateway(srv.Client(), zap.NewNop())
	status, body, err := gw.Deliver(context.Background(), models.Institution{BIC: "BANKBBBB", WebhookURL: srv.URL, PublicKey: "secret"}, models.Instruction{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Cuenta Cerrada", body)
	assert.Equal(t, "secret", apiKey)
}

func TestBankGatewayDeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, _, err := NewBankGateway(nil, nil).Deliver(context.Background(), models.Institution{BIC: "B", WebhookURL: url}, models.Instruction{})
	assert.Error(t, err)
}

func TestBankGatewayQueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/INS-1":
			_, _ = io.WriteString(w, `{"status":"completed"}`)
		case "/status/INS-2":
			_, _ = io.WriteString(w, `{"estado":"FAILED"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	gw := NewBankGateway(srv.Client(), zap.NewNop())
	bank := models.Institution{BIC: "BANKBBBB", WebhookURL: srv.URL}

	st, err := gw.QueryStatus(context.Background(), bank, "INS-1")
	require.NoError(t, err)
	assert.Equal(t, models.CallbackCompleted, st)

	st, err = gw.QueryStatus(context.Background(), bank, "INS-2")
	require.NoError(t, err)
	assert.Equal(t, models.CallbackFailed, st)

	_, err = gw.QueryStatus(context.Background(), bank, "INS-3")
	assert.True(t, IsNotFound(err))
}

func TestBankGatewayLookupAccount(t *testing.T) {
	var sent struct {
		Header map[string]string `json:"header"`
		Body   struct {
			Creditor models.Party `json:"creditor"`
		} `json:"body"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&sent)
		if sent.Body.Creditor.AccountID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"status":"SUCCESS","data":{"exists":true,"ownerName":"Ana Perez","currency":"USD"}}`)
	}))
	defer srv.Close()
	gw := NewBankGateway(srv.Client(), zap.NewNop())
	bank := models.Institution{BIC: "BANKBBBB", WebhookURL: srv.URL}

	res, err := gw.LookupAccount(context.Background(), bank, "2222220002")
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", res.Status)
	assert.True(t, res.Data.Exists)
	assert.Equal(t, "Ana Perez", res.Data.OwnerName)

	assert.Equal(t, "acmt.023.001.02", sent.Header["messageNamespace"])
	assert.Regexp(t, `^VAL-`, sent.Header["messageId"])
	assert.Equal(t, "SWITCH", sent.Header["originatingBankId"])
	assert.Equal(t, models.Party{AccountID: "2222220002", TargetBankID: "BANKBBBB"}, sent.Body.Creditor)

	_, err = gw.LookupAccount(context.Background(), bank, "missing")
	assert.True(t, IsNotFound(err))

	_, err = gw.LookupAccount(context.Background(), models.Institution{BIC: "BANKCCCC"}, "1")
	assert.Error(t, err)
}

func TestReturnWebhookURL(t *testing.T) {
	assert.Equal(t, "http://a/transferencias/recepcion/return", returnWebhookURL("http://a/transferencias/recepcion"))
	assert.Equal(t, "http://a/api/incoming/return", returnWebhookURL("http://a/"))
}

type recordingCloser struct {
	mu     sync.Mutex
	closed []int64
	done   chan struct{}
}

func (r *recordingCloser) CloseCycle(_ context.Context, cycleID int64, _ int) error {
	r.mu.Lock()
	r.closed = append(r.closed, cycleID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestCycleSchedulerRunsOnlyLatestJobPerCycle(t *testing.T) {
	closer := &recordingCloser{done: make(chan struct{}, 4)}
	s := NewCycleScheduler(closer, 10, time.Second, zap.NewNop())
	defer s.Stop()

	_, ok := s.Schedule(1, time.Hour)
	require.True(t, ok)
	_, ok = s.Schedule(2, 20*time.Millisecond)
	require.True(t, ok)
	// rescheduling cycle 1 must not touch cycle 2
	s.Schedule(1, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case <-closer.done:
		case <-time.After(2 * time.Second):
			t.Fatal("cycle close was not executed")
		}
	}
	closer.mu.Lock()
	assert.ElementsMatch(t, []int64{1, 2}, closer.closed)
	closer.mu.Unlock()
	assert.Empty(t, s.Pending())
}

func TestCycleSchedulerCancel(t *testing.T) {
	closer := &recordingCloser{done: make(chan struct{}, 1)}
	s := NewCycleScheduler(closer, 10, time.Second, zap.NewNop())

	s.Schedule(7, 20*time.Millisecond)
	assert.Contains(t, s.Pending(), int64(7))
	assert.True(t, s.Cancel(7))
	assert.False(t, s.Cancel(7))

	select {
	case <-closer.done:
		t.Fatal("cancelled cycle was closed")
	case <-time.After(100 * time.Millisecond):
	}

	s.Stop()
	_, ok := s.Schedule(8, time.Millisecond)
	assert.False(t, ok)
}

func TestStatusErrorHelpers(t *testing.T) {
	err := &StatusError{Service: "x", StatusCode: 404}
	assert.True(t, IsNotFound(err))
	assert.True(t, IsClientError(err))
	assert.False(t, IsClientError(errors.New("plain")))
}
