package api

import (
	"github.com/gin-gonic/gin"

	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/resilience"
)

// NewRouter wires the HTTP surface. Everything is org-scoped; tenancy is
// carried in the path and never inferred.
func NewRouter(h *Handler, logger ports.Logger, timeouts *resilience.TimeoutConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), requestTimeout(timeouts))

	v1 := router.Group("/api/v1")
	org := v1.Group("/orgs/:org_id")
	{
		org.POST("/checkout", h.Checkout)

		org.GET("/transactions", h.ListTransactions)
		org.GET("/transactions/:order_id", h.GetTransaction)
		org.PATCH("/transactions/:order_id/status", h.UpdateStatus)
		org.POST("/transactions/:order_id/retry", h.RetryTransaction)
		org.POST("/transactions/:order_id/refund", h.RefundTransaction)

		org.GET("/customers/:customer_id/balance", h.GetBalance)
		org.GET("/customers/:customer_id/balance/history", h.GetBalanceHistory)
		org.POST("/customers/:customer_id/deposit", h.Deposit)

		org.GET("/pricing/quote", h.PreviewQuote)
		org.POST("/pricing/rules", h.CreateRule)
		org.PUT("/pricing/rules/order", h.ReorderRules)
		org.PATCH("/pricing/rules/:rule_id", h.SetRuleActive)

		org.POST("/members/:member_id/spending-cap/reset", h.ResetSpendingCap)
	}

	return router
}
