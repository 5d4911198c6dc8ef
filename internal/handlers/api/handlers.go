package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/internal/services/checkout"
	"github.com/airtimehq/topup-core/internal/services/ledger"
	"github.com/airtimehq/topup-core/internal/services/pricing"
	"github.com/airtimehq/topup-core/internal/services/refund"
	"github.com/airtimehq/topup-core/internal/services/transaction"
)

// Handler exposes the money-movement core over HTTP. It is a thin
// translation layer; all business rules live in the services.
type Handler struct {
	checkout  *checkout.Service
	lifecycle *transaction.Service
	refunds   *refund.Service
	ledger    *ledger.Service
	pricing   *pricing.Engine
	rules     ports.PricingRepository
	history   ports.BalanceHistoryRepository
	logger    ports.Logger
}

func NewHandler(
	checkoutSvc *checkout.Service,
	lifecycleSvc *transaction.Service,
	refundSvc *refund.Service,
	ledgerSvc *ledger.Service,
	pricingEngine *pricing.Engine,
	rules ports.PricingRepository,
	history ports.BalanceHistoryRepository,
	logger ports.Logger,
) *Handler {
	return &Handler{
		checkout:  checkoutSvc,
		lifecycle: lifecycleSvc,
		refunds:   refundSvc,
		ledger:    ledgerSvc,
		pricing:   pricingEngine,
		rules:     rules,
		history:   history,
		logger:    logger,
	}
}

type checkoutRequest struct {
	CustomerID  string           `json:"customerId"`
	MemberID    string           `json:"memberId"`
	OrderID     string           `json:"orderId"`
	Currency    string           `json:"currency" binding:"required"`
	PaymentType string           `json:"paymentType" binding:"required"`
	Gateway     string           `json:"gateway"`
	SendAmount  *string          `json:"sendAmount"`
	Product     productPayload   `json:"product" binding:"required"`
	Operator    models.Operator  `json:"operator"`
	Recipient   models.Recipient `json:"recipient" binding:"required"`
}

type productPayload struct {
	ID            string `json:"id" binding:"required"`
	OperatorID    string `json:"operatorId"`
	ValueType     string `json:"valueType" binding:"required"`
	WholesaleCost string `json:"wholesaleCost"`
	MinSend       string `json:"minSend"`
	MaxSend       string `json:"maxSend"`
	MinReceive    string `json:"minReceive"`
	MaxReceive    string `json:"maxReceive"`
}

func (p productPayload) toModel() (models.Product, error) {
	product := models.Product{
		ID:         p.ID,
		OperatorID: p.OperatorID,
		ValueType:  models.ProductValueType(p.ValueType),
	}
	var err error
	if product.WholesaleCost, err = parseOptionalDecimal(p.WholesaleCost); err != nil {
		return product, err
	}
	if product.MinSend, err = parseOptionalDecimal(p.MinSend); err != nil {
		return product, err
	}
	if product.MaxSend, err = parseOptionalDecimal(p.MaxSend); err != nil {
		return product, err
	}
	if product.MinReceive, err = parseOptionalDecimal(p.MinReceive); err != nil {
		return product, err
	}
	if product.MaxReceive, err = parseOptionalDecimal(p.MaxReceive); err != nil {
		return product, err
	}
	return product, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "invalid decimal value").
			WithDetail("value", s)
	}
	return d, nil
}

// Checkout handles POST /orgs/:org_id/checkout
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid checkout payload", err))
		return
	}

	product, err := req.Product.toModel()
	if err != nil {
		writeError(c, err)
		return
	}

	var sendAmount *decimal.Decimal
	if req.SendAmount != nil {
		d, err := parseOptionalDecimal(*req.SendAmount)
		if err != nil {
			writeError(c, err)
			return
		}
		sendAmount = &d
	}

	txn, err := h.checkout.Checkout(c.Request.Context(), checkout.Request{
		OrgID:       c.Param("org_id"),
		CustomerID:  req.CustomerID,
		MemberID:    req.MemberID,
		Product:     product,
		Operator:    req.Operator,
		Recipient:   req.Recipient,
		Currency:    req.Currency,
		PaymentType: models.PaymentType(req.PaymentType),
		Gateway:     req.Gateway,
		SendAmount:  sendAmount,
		OrderID:     req.OrderID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// GetTransaction handles GET /orgs/:org_id/transactions/:order_id
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.lifecycle.Get(c.Request.Context(), c.Param("org_id"), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type listQuery struct {
	Limit  int32 `form:"limit,default=50"`
	Offset int32 `form:"offset,default=0"`
}

// ListTransactions handles GET /orgs/:org_id/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid pagination", err))
		return
	}
	txns, err := h.lifecycle.List(c.Request.Context(), c.Param("org_id"), q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// UpdateStatus handles PATCH /orgs/:org_id/transactions/:order_id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid status payload", err))
		return
	}
	txn, err := h.lifecycle.UpdateStatus(c.Request.Context(),
		c.Param("org_id"), c.Param("order_id"),
		domain.TransactionStatus(req.Status), req.Reason, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type retryRequest struct {
	Actor string `json:"actor"`
}

// RetryTransaction handles POST /orgs/:org_id/transactions/:order_id/retry
func (h *Handler) RetryTransaction(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid retry payload", err))
		return
	}
	txn, err := h.lifecycle.Retry(c.Request.Context(), c.Param("org_id"), c.Param("order_id"), req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type refundRequest struct {
	Reason     string  `json:"reason" binding:"required"`
	Amount     *string `json:"amount"`
	RefundedBy string  `json:"refundedBy"`
}

// RefundTransaction handles POST /orgs/:org_id/transactions/:order_id/refund
func (h *Handler) RefundTransaction(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid refund payload", err))
		return
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		d, err := parseOptionalDecimal(*req.Amount)
		if err != nil {
			writeError(c, err)
			return
		}
		amount = &d
	}

	result, err := h.refunds.Refund(c.Request.Context(), refund.Request{
		OrgID:      c.Param("org_id"),
		OrderID:    c.Param("order_id"),
		Reason:     req.Reason,
		Amount:     amount,
		Source:     "manual",
		RefundedBy: req.RefundedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetBalance handles GET /orgs/:org_id/customers/:customer_id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("org_id"), c.Param("customer_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// GetBalanceHistory handles GET /orgs/:org_id/customers/:customer_id/balance/history
func (h *Handler) GetBalanceHistory(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid pagination", err))
		return
	}
	orgID := c.Param("org_id")
	account, err := h.ledger.GetAccount(c.Request.Context(), orgID, c.Param("customer_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.history.ListByAccount(c.Request.Context(), nil, orgID, account.ID, q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

type depositRequest struct {
	Currency    string `json:"currency" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// Deposit handles POST /orgs/:org_id/customers/:customer_id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid deposit payload", err))
		return
	}
	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	account, err := h.ledger.Deposit(c.Request.Context(),
		c.Param("org_id"), c.Param("customer_id"), req.Currency, amount, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type quoteQuery struct {
	Country string `form:"country" binding:"required"`
	Cost    string `form:"cost" binding:"required"`
}

// PreviewQuote handles GET /orgs/:org_id/pricing/quote
func (h *Handler) PreviewQuote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "country and cost are required", err))
		return
	}
	cost, err := parseOptionalDecimal(q.Cost)
	if err != nil {
		writeError(c, err)
		return
	}
	quote, err := h.pricing.Quote(c.Request.Context(), c.Param("org_id"), q.Country, cost)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type createRuleRequest struct {
	Name                 string   `json:"name" binding:"required"`
	Priority             int      `json:"priority"`
	IsActive             bool     `json:"isActive"`
	PercentageMarkup     string   `json:"percentageMarkup"`
	FixedMarkup          string   `json:"fixedMarkup"`
	Scope                string   `json:"scope" binding:"required"`
	Regions              []string `json:"regions"`
	Countries            []string `json:"countries"`
	ExcludedCountries    []string `json:"excludedCountries"`
	MinTransactionAmount *string  `json:"minTransactionAmount"`
	MaxTransactionAmount *string  `json:"maxTransactionAmount"`
}

// CreateRule handles POST /orgs/:org_id/pricing/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid rule payload", err))
		return
	}

	rule := &models.PricingRule{
		OrgID:             c.Param("org_id"),
		Name:              req.Name,
		Priority:          req.Priority,
		IsActive:          req.IsActive,
		Scope:             models.PricingRuleScope(req.Scope),
		Regions:           req.Regions,
		Countries:         req.Countries,
		ExcludedCountries: req.ExcludedCountries,
	}
	var err error
	if rule.PercentageMarkup, err = parseOptionalDecimal(req.PercentageMarkup); err != nil {
		writeError(c, err)
		return
	}
	if rule.FixedMarkup, err = parseOptionalDecimal(req.FixedMarkup); err != nil {
		writeError(c, err)
		return
	}
	if req.MinTransactionAmount != nil {
		d, err := parseOptionalDecimal(*req.MinTransactionAmount)
		if err != nil {
			writeError(c, err)
			return
		}
		rule.MinTransactionAmount = &d
	}
	if req.MaxTransactionAmount != nil {
		d, err := parseOptionalDecimal(*req.MaxTransactionAmount)
		if err != nil {
			writeError(c, err)
			return
		}
		rule.MaxTransactionAmount = &d
	}

	if err := h.rules.CreateRule(c.Request.Context(), nil, rule); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

type reorderRequest struct {
	RuleIDs []string `json:"ruleIds" binding:"required"`
}

// ReorderRules handles PUT /orgs/:org_id/pricing/rules/order
func (h *Handler) ReorderRules(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid reorder payload", err))
		return
	}
	if err := h.rules.UpdateRulePriorities(c.Request.Context(), nil, c.Param("org_id"), req.RuleIDs); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ruleActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetRuleActive handles PATCH /orgs/:org_id/pricing/rules/:rule_id
func (h *Handler) SetRuleActive(c *gin.Context) {
	var req ruleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.WrapError(domain.ErrorCodeValidationFailed, "active flag is required", err))
		return
	}
	if err := h.rules.SetRuleActive(c.Request.Context(), nil, c.Param("org_id"), c.Param("rule_id"), *req.Active); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetSpendingCap handles POST /orgs/:org_id/members/:member_id/spending-cap/reset
func (h *Handler) ResetSpendingCap(c *gin.Context) {
	if err := h.ledger.ResetSpendingCap(c.Request.Context(), c.Param("org_id"), c.Param("member_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
