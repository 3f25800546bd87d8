package handler

import (
	"errors"

	"auctionwallet/internal/ledger"
	"auctionwallet/internal/service"
	"auctionwallet/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorCodes maps service errors to response codes. First match wins.
var errorCodes = []struct {
	err  error
	code int
}{
	{ledger.ErrInsufficientAvailable, response.CodeInsufficientFunds},
	{ledger.ErrInsufficientHeld, response.CodeInsufficientHeld},
	{ledger.ErrInvalidAmount, response.CodeParamError},
	{ledger.ErrBalanceOverflow, response.CodeParamError},
	{service.ErrInvalidUser, response.CodeParamError},
	{service.ErrInvalidPurpose, response.CodeParamError},
	{service.ErrInvalidType, response.CodeParamError},
	{service.ErrInvalidCommission, response.CodeParamError},
	{service.ErrInvalidSettlement, response.CodeParamError},
	{service.ErrInvalidRefundItem, response.CodeParamError},
	{service.ErrAlreadyRefunded, response.CodeAlreadyRefunded},
	{service.ErrDuplicateTransaction, response.CodeDuplicateRequest},
	{service.ErrOriginalNotFound, response.CodeOriginalNotFound},
	{service.ErrReleaseExceedsHold, response.CodeReleaseExceedsHold},
	{service.ErrSettlementInProgress, response.CodeSettlementInProgress},
	{service.ErrSettlementNotFound, response.CodeSettlementNotFound},
	{service.ErrLockUnavailable, response.CodeServiceBusy},
	{service.ErrConcurrentModification, response.CodeServiceBusy},
}

// writeError renders err. Storage failures are logged with detail and
// reported without it.
func (h *Handler) writeError(c *gin.Context, err error) {
	var inconsistency *service.SettlementInconsistencyError
	if errors.As(err, &inconsistency) {
		response.ErrorWithData(c, response.CodeSettlementInconsistent,
			"settlement incomplete, pending reconciliation",
			gin.H{
				"auction_id":            inconsistency.AuctionID,
				"settlement_no":         inconsistency.SettlementNo,
				"failed_leg":            inconsistency.FailedLeg,
				"amount":                inconsistency.Amount,
				"debit_transaction_id":  inconsistency.DebitTransactionID,
				"payout_transaction_id": inconsistency.PayoutTransactionID,
			})
		return
	}

	if ledger.IsInsufficientFunds(err) {
		response.BusinessError(c, codeFor(err), "insufficient funds")
		return
	}

	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			response.Error(c, m.code, err.Error())
			return
		}
	}

	h.logger.Error("request failed",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	response.ServerError(c, "internal error")
}

func codeFor(err error) int {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return response.CodeServerError
}
