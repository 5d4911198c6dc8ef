package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// PricingRepository stores markup rules and the per-org storefront discount
type PricingRepository struct {
	pool *pgxpool.Pool
}

func NewPricingRepository(pool *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{pool: pool}
}

var _ ports.PricingRepository = (*PricingRepository)(nil)

func (r *PricingRepository) ActiveRules(ctx context.Context, db ports.DBTX, orgID string) ([]*models.PricingRule, error) {
	rows, err := runner(db, r.pool).Query(ctx, `
		SELECT id, org_id, name, priority, is_active,
		       percentage_markup, fixed_markup,
		       scope, regions, countries, excluded_countries,
		       min_transaction_amount, max_transaction_amount,
		       created_at, updated_at
		FROM pricing_rules
		WHERE org_id = $1 AND is_active
		ORDER BY priority DESC, created_at`,
		orgID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list pricing rules", err)
	}
	defer rows.Close()

	var rules []*models.PricingRule
	for rows.Next() {
		var rule models.PricingRule
		var pct, fixed, min, max pgtype.Numeric
		var scope string
		err := rows.Scan(
			&rule.ID, &rule.OrgID, &rule.Name, &rule.Priority, &rule.IsActive,
			&pct, &fixed,
			&scope, &rule.Regions, &rule.Countries, &rule.ExcludedCountries,
			&min, &max,
			&rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan pricing rule", err)
		}
		rule.PercentageMarkup = decimalFromNumeric(pct)
		rule.FixedMarkup = decimalFromNumeric(fixed)
		rule.Scope = models.PricingRuleScope(scope)
		rule.MinTransactionAmount = decimalPtrFromNumeric(min)
		rule.MaxTransactionAmount = decimalPtrFromNumeric(max)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list pricing rules", err)
	}
	return rules, nil
}

// ActiveDiscount returns the org's discount configuration, nil when none is
// configured. At most one row per org is active at a time.
func (r *PricingRepository) ActiveDiscount(ctx context.Context, db ports.DBTX, orgID string) (*models.Discount, error) {
	var d models.Discount
	var value, minPurchase pgtype.Numeric
	var discountType string
	err := runner(db, r.pool).QueryRow(ctx, `
		SELECT id, org_id, type, value, starts_at, ends_at,
		       countries, min_purchase_amount, is_active
		FROM discounts
		WHERE org_id = $1 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`,
		orgID).
		Scan(&d.ID, &d.OrgID, &discountType, &value, &d.StartsAt, &d.EndsAt,
			&d.Countries, &minPurchase, &d.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get discount", err)
	}
	d.Type = models.DiscountType(discountType)
	d.Value = decimalFromNumeric(value)
	d.MinPurchaseAmount = decimalPtrFromNumeric(minPurchase)
	return &d, nil
}

func (r *PricingRepository) CreateRule(ctx context.Context, db ports.DBTX, rule *models.PricingRule) error {
	row := runner(db, r.pool).QueryRow(ctx, `
		INSERT INTO pricing_rules (
			org_id, name, priority, is_active,
			percentage_markup, fixed_markup,
			scope, regions, countries, excluded_countries,
			min_transaction_amount, max_transaction_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		rule.OrgID, rule.Name, rule.Priority, rule.IsActive,
		numericFromDecimal(rule.PercentageMarkup), numericFromDecimal(rule.FixedMarkup),
		string(rule.Scope), rule.Regions, rule.Countries, rule.ExcludedCountries,
		numericPtrFromDecimal(rule.MinTransactionAmount), numericPtrFromDecimal(rule.MaxTransactionAmount))
	if err := row.Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "create pricing rule", err)
	}
	return nil
}

// UpdateRulePriorities rewrites priorities from the given ordering, first id
// highest. Run inside a transaction so a partial reorder never persists.
func (r *PricingRepository) UpdateRulePriorities(ctx context.Context, db ports.DBTX, orgID string, ruleIDs []string) error {
	q := runner(db, r.pool)
	for i, id := range ruleIDs {
		priority := len(ruleIDs) - i
		tag, err := q.Exec(ctx, `
			UPDATE pricing_rules
			SET priority = $3, updated_at = now()
			WHERE org_id = $1 AND id = $2`,
			orgID, id, priority)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeDatabaseError, "update rule priority", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NewDomainError(domain.ErrorCodePricingRuleInvalid, "pricing rule not found").
				WithDetail("ruleId", id)
		}
	}
	return nil
}

func (r *PricingRepository) SetRuleActive(ctx context.Context, db ports.DBTX, orgID, ruleID string, active bool) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE pricing_rules
		SET is_active = $3, updated_at = now()
		WHERE org_id = $1 AND id = $2`,
		orgID, ruleID, active)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "set rule active", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodePricingRuleInvalid, "pricing rule not found").
			WithDetail("ruleId", ruleID)
	}
	return nil
}
