package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/observability"
)

// Engine computes the customer-facing price from a wholesale cost, the
// destination country and the org's rule set. Given a fixed rule set and
// discount config the computation is a pure function of its inputs.
type Engine struct {
	repo   ports.PricingRepository
	logger ports.Logger
	now    func() time.Time
}

// NewEngine creates a pricing engine
func NewEngine(repo ports.PricingRepository, logger ports.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Quote loads the org's active rules and discount and prices the request
func (e *Engine) Quote(ctx context.Context, orgID, country string, cost decimal.Decimal) (*models.Quote, error) {
	rules, err := e.repo.ActiveRules(ctx, nil, orgID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "load pricing rules", err)
	}

	discount, err := e.repo.ActiveDiscount(ctx, nil, orgID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "load discount", err)
	}

	quote, err := Compute(rules, discount, cost, country, e.now())
	if err != nil {
		return nil, err
	}

	observability.RecordQuote(orgID, quote.RuleName != "")
	e.logger.Debug("priced top-up request",
		ports.String("org_id", orgID),
		ports.String("country", country),
		ports.String("rule", quote.RuleName),
		ports.String("cost", quote.CostPrice.String()),
		ports.String("final_price", quote.FinalPrice.String()))

	return quote, nil
}

// Compute applies the priority-ordered rule scan and the storefront
// discount. Exported as a pure function so determinism is directly testable.
func Compute(rules []*models.PricingRule, discount *models.Discount, cost decimal.Decimal, country string, now time.Time) (*models.Quote, error) {
	if !cost.IsPositive() {
		return nil, domain.ErrPricingInvalidCost.WithDetail("cost", cost.String())
	}

	rule := matchRule(rules, country, cost)

	markup := decimal.Zero
	ruleName := ""
	if rule != nil {
		markup = rule.Markup(cost)
		ruleName = rule.Name
	}
	customerPrice := cost.Add(markup)

	discountAmount := decimal.Zero
	if discount.AppliesTo(country, customerPrice, now) {
		discountAmount = discount.Amount(customerPrice)
	}

	finalPrice := customerPrice.Sub(discountAmount)
	if finalPrice.IsNegative() {
		finalPrice = decimal.Zero
	}

	return &models.Quote{
		CostPrice:      cost,
		CustomerPrice:  customerPrice,
		DiscountAmount: discountAmount,
		FinalPrice:     finalPrice,
		Markup:         markup,
		RuleName:       ruleName,
	}, nil
}

// matchRule scans rules highest priority first and returns the first match.
// Ties break by creation order; a stable sort preserves it. Rule sets are
// tens of entries, a linear scan is fine.
func matchRule(rules []*models.PricingRule, country string, amount decimal.Decimal) *models.PricingRule {
	sorted := make([]*models.PricingRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	for _, r := range sorted {
		if r.Matches(country, amount) {
			return r
		}
	}
	return nil
}

// FallbackCost approximates a wholesale cost for variable-value products
// when the provider estimate is unavailable, using the ratio of the
// product's minimum send and receive values as an exchange rate. The result
// is a documented approximation, not an exact price; callers must log it as
// such before trusting it.
func FallbackCost(product models.Product, receiveAmount decimal.Decimal) (decimal.Decimal, error) {
	if product.MinReceive.IsZero() || !product.MinSend.IsPositive() {
		return decimal.Zero, domain.ErrPricingInvalidCost.
			WithDetail("reason", "no usable min send/receive ratio for fallback")
	}
	rate := product.MinSend.Div(product.MinReceive)
	return receiveAmount.Mul(rate), nil
}
