package handler

import (
	"context"
	"strconv"

	"auctionwallet/internal/service"
	"auctionwallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OutboxAdmin requeues outbox messages that ran out of retries.
type OutboxAdmin interface {
	RequeueFailed(ctx context.Context, limit int) (int, error)
}

// Handler groups the HTTP endpoints of the wallet and auction services.
type Handler struct {
	walletService     *service.WalletService
	settlementService *service.SettlementService
	refundService     *service.RefundService
	outbox            OutboxAdmin
	logger            *zap.Logger
}

func NewHandler(
	walletService *service.WalletService,
	settlementService *service.SettlementService,
	refundService *service.RefundService,
	outbox OutboxAdmin,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		walletService:     walletService,
		settlementService: settlementService,
		refundService:     refundService,
		outbox:            outbox,
		logger:            logger.Named("http"),
	}
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ============================================================
// Wallet
// ============================================================

// GetBalance
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id is required")
		return
	}

	balance, err := h.walletService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, balance)
}

// FundsRequest is the body of add/deduct/hold.
type FundsRequest struct {
	UserID         string            `json:"user_id" binding:"required"`
	Amount         int64             `json:"amount" binding:"required,gt=0"`
	Purpose        string            `json:"purpose"`
	ReferenceID    string            `json:"reference_id"`
	ReferenceType  string            `json:"reference_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	Description    string            `json:"description" binding:"max=256"`
	Metadata       map[string]string `json:"metadata"`
}

func (r *FundsRequest) toService() *service.FundsRequest {
	return &service.FundsRequest{
		UserID:         r.UserID,
		Amount:         r.Amount,
		Purpose:        r.Purpose,
		ReferenceID:    r.ReferenceID,
		ReferenceType:  r.ReferenceType,
		IdempotencyKey: r.IdempotencyKey,
		Description:    r.Description,
		Metadata:       r.Metadata,
	}
}

type fundsOp func(ctx context.Context, req *service.FundsRequest) (*service.RecordResult, error)

func (h *Handler) funds(op fundsOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FundsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "invalid request: "+err.Error())
			return
		}

		result, err := op(c.Request.Context(), req.toService())
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Success(c, result)
	}
}

// AddFunds
// POST /api/v1/wallet/add-funds
func (h *Handler) AddFunds(c *gin.Context) {
	h.funds(h.walletService.AddFunds)(c)
}

// DeductFunds
// POST /api/v1/wallet/deduct-funds
func (h *Handler) DeductFunds(c *gin.Context) {
	h.funds(h.walletService.DeductFunds)(c)
}

// HoldFunds
// POST /api/v1/wallet/hold-funds
func (h *Handler) HoldFunds(c *gin.Context) {
	h.funds(h.walletService.HoldFunds)(c)
}

type ReleaseFundsRequest struct {
	UserID                string            `json:"user_id" binding:"required"`
	Amount                int64             `json:"amount" binding:"required,gt=0"`
	OriginalTransactionID string            `json:"original_transaction_id" binding:"required"`
	Purpose               string            `json:"purpose"`
	IdempotencyKey        string            `json:"idempotency_key"`
	Description           string            `json:"description" binding:"max=256"`
	Metadata              map[string]string `json:"metadata"`
}

// ReleaseFunds
// POST /api/v1/wallet/release-funds
func (h *Handler) ReleaseFunds(c *gin.Context) {
	var req ReleaseFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.walletService.ReleaseFunds(c.Request.Context(), &service.ReleaseRequest{
		UserID:                req.UserID,
		Amount:                req.Amount,
		OriginalTransactionID: req.OriginalTransactionID,
		Purpose:               req.Purpose,
		IdempotencyKey:        req.IdempotencyKey,
		Description:           req.Description,
		Metadata:              req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

type RefundRequest struct {
	UserID                string            `json:"user_id" binding:"required"`
	Amount                int64             `json:"amount" binding:"required,gt=0"`
	Reason                string            `json:"reason" binding:"max=256"`
	ReferenceID           string            `json:"reference_id"`
	ReferenceType         string            `json:"reference_type"`
	OriginalTransactionID string            `json:"original_transaction_id"`
	Metadata              map[string]string `json:"metadata"`
}

// ProcessRefund
// POST /api/v1/wallet/refund
func (h *Handler) ProcessRefund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.walletService.ProcessRefund(c.Request.Context(), &service.RefundRequest{
		UserID:                req.UserID,
		Amount:                req.Amount,
		Reason:                req.Reason,
		ReferenceID:           req.ReferenceID,
		ReferenceType:         req.ReferenceType,
		OriginalTransactionID: req.OriginalTransactionID,
		Metadata:              req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// GetTransactionHistory
// GET /api/v1/wallet/transactions?user_id=xxx&limit=20&offset=0&type=&purpose=
func (h *Handler) GetTransactionHistory(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id is required")
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		response.ParamError(c, "limit must be a number")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		response.ParamError(c, "offset must be a number")
		return
	}

	page, err := h.walletService.GetTransactionHistory(c.Request.Context(), service.HistoryQuery{
		UserID:  userID,
		Limit:   limit,
		Offset:  offset,
		Type:    c.Query("type"),
		Purpose: c.Query("purpose"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, page)
}

// GetWalletStats
// GET /api/v1/wallet/stats?user_id=xxx
func (h *Handler) GetWalletStats(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id is required")
		return
	}

	stats, err := h.walletService.GetWalletStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// ============================================================
// Auction
// ============================================================

type SettleAuctionRequest struct {
	AuctionID         string          `json:"auction_id" binding:"required"`
	WinnerID          string          `json:"winner_id" binding:"required"`
	SellerID          string          `json:"seller_id" binding:"required"`
	FinalPrice        int64           `json:"final_price" binding:"required,gt=0"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
}

// SettleAuction
// POST /api/v1/auction/settle
//
// A settlement that debited the winner but could not pay the seller or the
// platform is reported with CodeSettlementInconsistent, never as success.
func (h *Handler) SettleAuction(c *gin.Context) {
	var req SettleAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.settlementService.Settle(c.Request.Context(), &service.SettleRequest{
		AuctionID:         req.AuctionID,
		WinnerID:          req.WinnerID,
		SellerID:          req.SellerID,
		FinalPrice:        req.FinalPrice,
		CommissionPercent: req.CommissionPercent,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

type RefundBidsRequest struct {
	AuctionID string               `json:"auction_id" binding:"required"`
	Items     []service.RefundItem `json:"items" binding:"required"`
}

// RefundAuctionBids
// POST /api/v1/auction/refund-bids
func (h *Handler) RefundAuctionBids(c *gin.Context) {
	var req RefundBidsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	summary, err := h.refundService.RefundAuctionBids(c.Request.Context(), req.AuctionID, req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if len(summary.FailedRefunds) > 0 {
		response.ErrorWithData(c, response.CodeRefundPartiallyFailed, "some refunds failed", summary)
		return
	}
	response.Success(c, summary)
}

// ============================================================
// Admin
// ============================================================

// ListInconsistentSettlements
// GET /api/v1/admin/settlements/inconsistent?limit=50
func (h *Handler) ListInconsistentSettlements(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok || limit <= 0 {
		response.ParamError(c, "limit must be a positive number")
		return
	}

	settlements, err := h.settlementService.ListInconsistent(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": settlements, "count": len(settlements)})
}

// GetSettlement returns a settlement with every ledger movement of its
// auction.
// GET /api/v1/admin/settlements/detail?auction_id=xxx
func (h *Handler) GetSettlement(c *gin.Context) {
	auctionID := c.Query("auction_id")
	if auctionID == "" {
		response.ParamError(c, "auction_id is required")
		return
	}

	settlement, err := h.settlementService.GetSettlement(c.Request.Context(), auctionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	transactions, err := h.walletService.ListReferenceTransactions(c.Request.Context(), auctionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"settlement": settlement, "transactions": transactions})
}

type ResumeSettlementRequest struct {
	AuctionID string `json:"auction_id" binding:"required"`
}

// ResumeSettlement
// POST /api/v1/admin/settlements/resume
func (h *Handler) ResumeSettlement(c *gin.Context) {
	var req ResumeSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	h.logger.Info("operator resumed settlement",
		zap.String("auction_id", req.AuctionID),
		zap.String("request_id", c.GetString("request_id")))

	result, err := h.settlementService.Resume(c.Request.Context(), req.AuctionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RequeueOutbox
// POST /api/v1/admin/outbox/requeue?limit=100
func (h *Handler) RequeueOutbox(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok || limit <= 0 {
		response.ParamError(c, "limit must be a positive number")
		return
	}

	n, err := h.outbox.RequeueFailed(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"requeued": n})
}
