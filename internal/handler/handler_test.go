package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auctionwallet/internal/config"
	"auctionwallet/internal/infrastructure/database"
	"auctionwallet/internal/infrastructure/lock"
	"auctionwallet/internal/service"
	"auctionwallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOutbox struct {
	n   int
	err error
}

func (f *fakeOutbox) RequeueFailed(context.Context, int) (int, error) {
	return f.n, f.err
}

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeOutbox) {
	t.Helper()

	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Default()
	log := zap.NewNop()
	wallet := service.NewWalletService(db, lock.NewLocalUserLocker(), cfg, log)
	outbox := &fakeOutbox{}
	h := NewHandler(
		wallet,
		service.NewSettlementService(db, wallet, cfg, log),
		service.NewRefundService(wallet, cfg, log),
		outbox,
		log,
	)
	return SetupRouter(h, log), outbox
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) apiResponse {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, w.Header().Get("X-Request-ID"), resp.RequestID)
	return resp
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/balance?user_id=u1", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.RequestID)
}

func TestWalletEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := do(t, r, http.MethodPost, "/api/v1/wallet/add-funds", gin.H{"user_id": "u1", "amount": 1000})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodPost, "/api/v1/wallet/hold-funds", gin.H{"user_id": "u1", "amount": 300})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var hold service.RecordResult
	require.NoError(t, json.Unmarshal(resp.Data, &hold))
	assert.Equal(t, int64(700), hold.NewBalance.Available)
	assert.Equal(t, int64(300), hold.NewBalance.Held)

	resp = do(t, r, http.MethodPost, "/api/v1/wallet/release-funds", gin.H{
		"user_id": "u1", "amount": 300, "original_transaction_id": hold.TransactionID,
	})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodGet, "/api/v1/wallet/balance?user_id=u1", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var balance service.BalanceView
	require.NoError(t, json.Unmarshal(resp.Data, &balance))
	assert.Equal(t, int64(1000), balance.Available)
	assert.Zero(t, balance.Held)
	assert.Equal(t, int64(1000), balance.Total)

	resp = do(t, r, http.MethodGet, "/api/v1/wallet/transactions?user_id=u1&limit=2", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page service.HistoryPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasMore)

	resp = do(t, r, http.MethodGet, "/api/v1/wallet/stats?user_id=u1", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var stats service.WalletStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(1000), stats.TotalCredits)
	assert.Equal(t, int64(3), stats.TransactionCount)
}

func TestDeductFunds_InsufficientFunds(t *testing.T) {
	r, _ := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/wallet/add-funds", gin.H{"user_id": "u1", "amount": 100})
	resp := do(t, r, http.MethodPost, "/api/v1/wallet/deduct-funds", gin.H{"user_id": "u1", "amount": 101, "purpose": "penalty"})

	assert.Equal(t, response.CodeInsufficientFunds, resp.Code)
	assert.Equal(t, "insufficient funds", resp.Message)
}

func TestParamErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"missing user", http.MethodGet, "/api/v1/wallet/balance", nil},
		{"zero amount", http.MethodPost, "/api/v1/wallet/add-funds", gin.H{"user_id": "u1", "amount": 0}},
		{"unknown purpose", http.MethodPost, "/api/v1/wallet/deduct-funds", gin.H{"user_id": "u1", "amount": 5, "purpose": "gift"}},
		{"bad limit", http.MethodGet, "/api/v1/wallet/transactions?user_id=u1&limit=ten", nil},
		{"release without original", http.MethodPost, "/api/v1/wallet/release-funds", gin.H{"user_id": "u1", "amount": 5}},
		{"description too long", http.MethodPost, "/api/v1/wallet/add-funds", gin.H{
			"user_id": "u1", "amount": 5, "description": strings.Repeat("x", 257),
		}},
		{"release description too long", http.MethodPost, "/api/v1/wallet/release-funds", gin.H{
			"user_id": "u1", "amount": 5, "original_transaction_id": "TXN1", "description": strings.Repeat("x", 257),
		}},
		{"refund reason too long", http.MethodPost, "/api/v1/wallet/refund", gin.H{
			"user_id": "u1", "amount": 5, "reason": strings.Repeat("x", 257),
		}},
		{"settle same user", http.MethodPost, "/api/v1/auction/settle", gin.H{
			"auction_id": "a1", "winner_id": "u1", "seller_id": "u1", "final_price": 10, "commission_percent": 5,
		}},
		{"commission over 100", http.MethodPost, "/api/v1/auction/settle", gin.H{
			"auction_id": "a1", "winner_id": "u1", "seller_id": "u2", "final_price": 10, "commission_percent": "150",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, response.CodeParamError, resp.Code, resp.Message)
		})
	}
}

func TestSettleAuction(t *testing.T) {
	r, _ := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/wallet/add-funds", gin.H{"user_id": "winner", "amount": 100000})
	resp := do(t, r, http.MethodPost, "/api/v1/auction/settle", gin.H{
		"auction_id":         "auction-1",
		"winner_id":          "winner",
		"seller_id":          "seller",
		"final_price":        100000,
		"commission_percent": "5",
	})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	var result service.SettlementResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, int64(95000), result.SellerPayout)
	assert.Equal(t, int64(5000), result.Commission)

	resp = do(t, r, http.MethodGet, "/api/v1/admin/settlements/detail?auction_id=auction-1", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var detail struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Len(t, detail.Transactions, 3)

	resp = do(t, r, http.MethodGet, "/api/v1/admin/settlements/detail?auction_id=auction-2", nil)
	assert.Equal(t, response.CodeSettlementNotFound, resp.Code)
}

func TestSettleAuction_InsufficientWinner(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := do(t, r, http.MethodPost, "/api/v1/auction/settle", gin.H{
		"auction_id": "auction-1", "winner_id": "winner", "seller_id": "seller", "final_price": 500, "commission_percent": 5,
	})
	assert.Equal(t, response.CodeInsufficientFunds, resp.Code)
	assert.Equal(t, "insufficient funds", resp.Message)
}

func TestRefundAuctionBids(t *testing.T) {
	r, _ := newTestRouter(t)

	body := gin.H{
		"auction_id": "auction-1",
		"items": []gin.H{
			{"user_id": "u1", "amount": 100, "bid_id": "bid-1"},
			{"user_id": "u2", "amount": 200, "bid_id": "bid-2"},
		},
	}
	resp := do(t, r, http.MethodPost, "/api/v1/auction/refund-bids", body)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	var summary service.RefundSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, 2, summary.RefundedCount)
	assert.Equal(t, int64(300), summary.TotalRefunded)

	resp = do(t, r, http.MethodPost, "/api/v1/auction/refund-bids", body)
	assert.Equal(t, response.CodeRefundPartiallyFailed, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Zero(t, summary.RefundedCount)
	assert.Len(t, summary.FailedRefunds, 2)
}

func TestAdminEndpoints(t *testing.T) {
	r, outbox := newTestRouter(t)

	resp := do(t, r, http.MethodGet, "/api/v1/admin/settlements/inconsistent", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"list":[],"count":0}`, string(resp.Data))

	resp = do(t, r, http.MethodPost, "/api/v1/admin/settlements/resume", gin.H{"auction_id": "missing"})
	assert.Equal(t, response.CodeSettlementNotFound, resp.Code)

	outbox.n = 4
	resp = do(t, r, http.MethodPost, "/api/v1/admin/outbox/requeue", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.JSONEq(t, `{"requeued":4}`, string(resp.Data))

	outbox.err = errors.New("connection refused")
	resp = do(t, r, http.MethodPost, "/api/v1/admin/outbox/requeue", nil)
	assert.Equal(t, response.CodeServerError, resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/wallet/balance", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
