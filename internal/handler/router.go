package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.POST("/add-funds", h.AddFunds)
			wallet.POST("/deduct-funds", h.DeductFunds)
			wallet.POST("/hold-funds", h.HoldFunds)
			wallet.POST("/release-funds", h.ReleaseFunds)
			wallet.POST("/refund", h.ProcessRefund)
			wallet.GET("/transactions", h.GetTransactionHistory)
			wallet.GET("/stats", h.GetWalletStats)
		}

		auction := api.Group("/auction")
		{
			auction.POST("/settle", h.SettleAuction)
			auction.POST("/refund-bids", h.RefundAuctionBids)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/settlements/inconsistent", h.ListInconsistentSettlements)
			admin.GET("/settlements/detail", h.GetSettlement)
			admin.POST("/settlements/resume", h.ResumeSettlement)
			admin.POST("/outbox/requeue", h.RequeueOutbox)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
