package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPricingRule_MatchesScope(t *testing.T) {
	tests := []struct {
		name    string
		rule    PricingRule
		country string
		want    bool
	}{
		{
			name:    "all scope matches anything",
			rule:    PricingRule{Scope: ScopeAll},
			country: "KE",
			want:    true,
		},
		{
			name:    "all scope honors exclusions",
			rule:    PricingRule{Scope: ScopeAll, ExcludedCountries: []string{"KE"}},
			country: "KE",
			want:    false,
		},
		{
			name:    "country list matches listed country",
			rule:    PricingRule{Scope: ScopeCountries, Countries: []string{"IN", "PK"}},
			country: "IN",
			want:    true,
		},
		{
			name:    "country list rejects unlisted country",
			rule:    PricingRule{Scope: ScopeCountries, Countries: []string{"IN", "PK"}},
			country: "BD",
			want:    false,
		},
		{
			name:    "region scope resolves country to region",
			rule:    PricingRule{Scope: ScopeRegions, Regions: []string{RegionOf("KE")}},
			country: "KE",
			want:    true,
		},
		{
			name:    "region scope rejects other regions",
			rule:    PricingRule{Scope: ScopeRegions, Regions: []string{RegionOf("KE")}},
			country: "IN",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.country, decimal.NewFromInt(10)))
		})
	}
}

func TestPricingRule_AmountBounds(t *testing.T) {
	min := decimal.NewFromInt(5)
	max := decimal.NewFromInt(50)
	rule := PricingRule{Scope: ScopeAll, MinTransactionAmount: &min, MaxTransactionAmount: &max}

	assert.False(t, rule.Matches("KE", decimal.NewFromInt(4)))
	assert.True(t, rule.Matches("KE", decimal.NewFromInt(5)))
	assert.True(t, rule.Matches("KE", decimal.NewFromInt(50)))
	assert.False(t, rule.Matches("KE", decimal.NewFromInt(51)))
}

func TestPricingRule_Markup(t *testing.T) {
	rule := PricingRule{
		PercentageMarkup: decimal.NewFromInt(20),
		FixedMarkup:      decimal.RequireFromString("0.50"),
	}

	markup := rule.Markup(decimal.NewFromInt(10))
	assert.True(t, markup.Equal(decimal.RequireFromString("2.50")),
		"expected 2.50, got %s", markup)
}

func TestDiscount_AppliesTo(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	t.Run("nil discount never applies", func(t *testing.T) {
		var d *Discount
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))
	})

	t.Run("inactive discount never applies", func(t *testing.T) {
		d := &Discount{IsActive: false}
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))
	})

	t.Run("date window", func(t *testing.T) {
		d := &Discount{IsActive: true, StartsAt: &after}
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))

		d = &Discount{IsActive: true, StartsAt: &before, EndsAt: &after}
		assert.True(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))

		d = &Discount{IsActive: true, EndsAt: &before}
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))
	})

	t.Run("country allow list", func(t *testing.T) {
		d := &Discount{IsActive: true, Countries: []string{"IN"}}
		assert.True(t, d.AppliesTo("IN", decimal.NewFromInt(10), now))
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(10), now))
	})

	t.Run("minimum purchase", func(t *testing.T) {
		min := decimal.NewFromInt(20)
		d := &Discount{IsActive: true, MinPurchaseAmount: &min}
		assert.False(t, d.AppliesTo("KE", decimal.NewFromInt(19), now))
		assert.True(t, d.AppliesTo("KE", decimal.NewFromInt(20), now))
	})
}

func TestDiscount_Amount(t *testing.T) {
	pct := &Discount{Type: DiscountTypePercentage, Value: decimal.NewFromInt(10)}
	assert.True(t, pct.Amount(decimal.NewFromInt(50)).Equal(decimal.NewFromInt(5)))

	fixed := &Discount{Type: DiscountTypeFixed, Value: decimal.NewFromInt(3)}
	assert.True(t, fixed.Amount(decimal.NewFromInt(50)).Equal(decimal.NewFromInt(3)))
}

func TestRegionOf(t *testing.T) {
	assert.Equal(t, RegionOf("KE"), RegionOf("TZ"), "east african neighbors share a region")
	assert.NotEqual(t, RegionOf("KE"), RegionOf("IN"))
	assert.Equal(t, "Other", RegionOf("ZZ"))
}
