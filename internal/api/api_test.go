package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/api"
	"github.com/pimarket/reconciler/internal/currency"
	"github.com/pimarket/reconciler/internal/delivery"
	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/ingestion"
	"github.com/pimarket/reconciler/internal/orderref"
	"github.com/pimarket/reconciler/internal/reconciliation"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/tasks"
	"github.com/pimarket/reconciler/internal/testfixture"
	"github.com/pimarket/reconciler/internal/wallet"
)

const apiKey = "test-key"

type server struct {
	db     *repository.DB
	runner *tasks.Runner
	http   *httptest.Server
}

func newServer(t *testing.T, override func(d *api.Deps)) *server {
	t.Helper()
	db := testfixture.OpenDB(t)
	logger := zap.NewNop()
	policy, err := currency.NewPolicy(decimal.NewFromInt(1000), "2024-01")
	require.NoError(t, err)

	runner := tasks.NewRunner(4, 5*time.Second, logger)
	walletSvc := wallet.NewService(db, policy, 72*time.Hour, logger)
	recon := reconciliation.NewService(reconciliation.Deps{
		DB:         db,
		Dispatcher: delivery.NewDispatcher(repository.NewOrderRepo(db), repository.NewLicenseKeyRepo(db), logger),
		Wallet:     walletSvc,
		Runner:     runner,
		Logger:     logger,
	})

	deps := api.Deps{
		DB:             db,
		Reconciler:     recon,
		Ingestion:      ingestion.NewService(recon, logger),
		Wallet:         walletSvc,
		APIKey:         apiKey,
		AllowedOrigins: []string{"https://ops.pimarket.vn"},
		Logger:         logger,
	}
	if override != nil {
		override(&deps)
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(func() {
		srv.Close()
		runner.Wait()
	})
	return &server{db: db, runner: runner, http: srv}
}

func (s *server) do(t *testing.T, method, path, key string, body []byte, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Apikey "+key)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func webhookBody(id int64, amount int64, content string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %d,
		"gateway": "MBBank",
		"transactionDate": "2024-03-01 17:00:00",
		"accountNumber": "0123456789",
		"code": null,
		"content": %q,
		"transferType": "in",
		"transferAmount": %d,
		"accumulated": 0,
		"subAccount": null,
		"referenceCode": "FT24061",
		"description": ""
	}`, id, content, amount))
}

func TestWebhookRequiresAPIKey(t *testing.T) {
	s := newServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", "", webhookBody(1, 1000, "x"), "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", "wrong", webhookBody(1, 1000, "x"), "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, s.http.URL+"/api/v1/webhooks/bank-transfer", bytes.NewReader(webhookBody(1, 1000, "x")))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	s := newServer(t, nil)

	for _, body := range []string{
		`not json`,
		`{"id": 0, "transferType": "in", "transferAmount": 1000, "transactionDate": "2024-03-01 17:00:00"}`,
		`{"id": 5, "transferType": "sideways", "transferAmount": 1000, "transactionDate": "2024-03-01 17:00:00"}`,
		`{"id": 5, "transferType": "in", "transferAmount": -1, "transactionDate": "2024-03-01 17:00:00"}`,
	} {
		resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, []byte(body), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, false, out["success"])
	}

	count, err := repository.NewTransactionRepo(s.db).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWebhookMatchedThenReplayed(t *testing.T) {
	s := newServer(t, nil)
	order := testfixture.SeedOrder(t, s.db, testfixture.OrderSeed{Price: 150000})
	body := webhookBody(7001, 150000, "ND "+orderref.Embed(order.ID))

	resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, body, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "matched", out["status"])
	assert.Equal(t, order.ID, out["order_id"])

	resp, out = s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, body, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_processed", out["status"])
	s.runner.Wait()

	resp, out = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/payment-status", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", out["status"])
	assert.Equal(t, "delivered", out["delivery_status"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/wallets/"+order.SellerID(), apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wal := out["wallet"].(map[string]any)
	assert.Equal(t, float64(150), wal["pending"])
	assert.Equal(t, float64(1), out["total"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/transactions/7001", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txn := out["transaction"].(map[string]any)
	assert.Equal(t, true, txn["processed"])

	resp, out = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/earning/retry", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["skipped"])
}

func TestWebhookUnmatchedStillSucceeds(t *testing.T) {
	s := newServer(t, nil)

	resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, webhookBody(7002, 50000, "tra no"), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unmatched", out["status"])
	assert.Equal(t, "no_order_id", out["reason"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/unmatched?reason=no_order_id", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["total"])
	assert.Equal(t, float64(50000), out["total_amount_vnd"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/unmatched/summary", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["total_count"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/transactions?processed=false", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["total"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/dashboard", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["transactions"].(map[string]any)["unprocessed"])
}

type failingReconciler struct{}

func (failingReconciler) ProcessTransfer(context.Context, domain.TransferNotification) (*reconciliation.Result, error) {
	return nil, errors.New("database is locked")
}

func (failingReconciler) RetryEarning(context.Context, string) (*wallet.EarningResult, error) {
	return nil, errors.New("database is locked")
}

func TestWebhookStorageFailureAsksForRetry(t *testing.T) {
	s := newServer(t, func(d *api.Deps) { d.Reconciler = failingReconciler{} })

	resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, webhookBody(7003, 1000, "x"), "application/json")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, out["success"])
}

func TestRetryEarningErrors(t *testing.T) {
	s := newServer(t, nil)
	order := testfixture.SeedOrder(t, s.db, testfixture.OrderSeed{})

	resp, _ := s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/earning/retry", apiKey, nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/orders/00000000-0000-0000-0000-000000000000/earning/retry", apiKey, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/wallets/nobody", apiKey, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/transactions/abc", apiKey, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImportStatement(t *testing.T) {
	s := newServer(t, nil)
	order := testfixture.SeedOrder(t, s.db, testfixture.OrderSeed{Price: 150000})

	csv := strings.Join([]string{
		"id,gateway,transactionDate,accountNumber,transferType,transferAmount,content,referenceCode",
		"8001,MBBank,2024-03-01 17:00:00,0123456789,in,150000," + orderref.Embed(order.ID) + ",FT1",
		"8002,MBBank,2024-03-01 17:05:00,0123456789,in,20000,cafe,FT2",
		"8003,MBBank,bad-date,0123456789,in,20000,cafe,FT3",
	}, "\n")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "statement.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, out := s.do(t, http.MethodPost, "/api/v1/statements/import", apiKey, buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), out["rows"])
	byStatus := out["by_status"].(map[string]any)
	assert.Equal(t, float64(1), byStatus["matched"])
	assert.Equal(t, float64(1), byStatus["unmatched"])
	assert.Len(t, out["failed"], 1)
}

func TestCORSPreflightAndHealth(t *testing.T) {
	s := newServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, s.http.URL+"/api/v1/transactions", nil)
	req.Header.Set("Origin", "https://ops.pimarket.vn")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://ops.pimarket.vn", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, out := s.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestWebhookReportsEarningFailure(t *testing.T) {
	s := newServer(t, nil)
	// 500 VND floors to zero PI at 1000 VND per PI
	order := testfixture.SeedOrder(t, s.db, testfixture.OrderSeed{Price: 500})

	resp, out := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, webhookBody(7010, 500, orderref.Embed(order.ID)), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matched", out["status"])
	assert.NotEmpty(t, out["earning_error"])
	s.runner.Wait()

	resp, out = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/payment-status", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", out["status"])
	assert.NotEmpty(t, out["earning_error"])
	assert.NotNil(t, out["earning_failed_at"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/orders/earning-failures", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["total"])
	failed := out["orders"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, order.ID, failed[0].(map[string]any)["id"])

	resp, out = s.do(t, http.MethodGet, "/api/v1/dashboard", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["earnings_failed"])
}

func TestUnmatchedTotalAmountCoversAllPages(t *testing.T) {
	s := newServer(t, nil)
	for i, amount := range []int64{10000, 20000, 30000} {
		resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/bank-transfer", apiKey, webhookBody(int64(7020+i), amount, "tra no"), "application/json")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, out := s.do(t, http.MethodGet, "/api/v1/unmatched?limit=1", apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["unmatched"], 1)
	assert.Equal(t, float64(3), out["total"])
	assert.Equal(t, float64(60000), out["total_amount_vnd"])
}
