package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingRuleScope describes which destinations a rule applies to. Exactly
// one of the three forms is used per rule: everything, an explicit region
// list, or an explicit country list.
type PricingRuleScope string

const (
	ScopeAll       PricingRuleScope = "all"
	ScopeRegions   PricingRuleScope = "regions"
	ScopeCountries PricingRuleScope = "countries"
)

// PricingRule computes the customer-facing markup on a wholesale cost.
// Rules are evaluated highest priority first; the first matching rule wins.
type PricingRule struct {
	ID                   string
	OrgID                string
	Name                 string
	Priority             int
	IsActive             bool
	PercentageMarkup     decimal.Decimal
	FixedMarkup          decimal.Decimal
	Scope                PricingRuleScope
	Regions              []string
	Countries            []string
	ExcludedCountries    []string
	MinTransactionAmount *decimal.Decimal
	MaxTransactionAmount *decimal.Decimal
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Matches reports whether the rule applies to the destination country and
// transaction amount
func (r *PricingRule) Matches(country string, amount decimal.Decimal) bool {
	if !r.matchesScope(country) {
		return false
	}
	if r.MinTransactionAmount != nil && amount.LessThan(*r.MinTransactionAmount) {
		return false
	}
	if r.MaxTransactionAmount != nil && amount.GreaterThan(*r.MaxTransactionAmount) {
		return false
	}
	return true
}

func (r *PricingRule) matchesScope(country string) bool {
	switch r.Scope {
	case ScopeRegions:
		region := RegionOf(country)
		for _, want := range r.Regions {
			if want == region {
				return true
			}
		}
		return false
	case ScopeCountries:
		for _, want := range r.Countries {
			if want == country {
				return true
			}
		}
		return false
	default:
		// Applies to everything unless the country is vetoed
		for _, excluded := range r.ExcludedCountries {
			if excluded == country {
				return false
			}
		}
		return true
	}
}

// Markup returns cost * (pct/100) + fixed
func (r *PricingRule) Markup(cost decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return cost.Mul(r.PercentageMarkup).Div(hundred).Add(r.FixedMarkup)
}

// DiscountType selects how a discount value is interpreted
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a per-storefront promotion applied strictly after markup, on
// the markup-inclusive price. At most one active configuration per org.
type Discount struct {
	ID                string
	OrgID             string
	Type              DiscountType
	Value             decimal.Decimal
	StartsAt          *time.Time
	EndsAt            *time.Time
	Countries         []string
	MinPurchaseAmount *decimal.Decimal
	IsActive          bool
}

// AppliesTo reports whether the discount is active for the destination and
// price at the given instant
func (d *Discount) AppliesTo(country string, customerPrice decimal.Decimal, now time.Time) bool {
	if d == nil || !d.IsActive {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	if len(d.Countries) > 0 {
		found := false
		for _, c := range d.Countries {
			if c == country {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if d.MinPurchaseAmount != nil && customerPrice.LessThan(*d.MinPurchaseAmount) {
		return false
	}
	return true
}

// Amount computes the discount on the markup-inclusive price
func (d *Discount) Amount(customerPrice decimal.Decimal) decimal.Decimal {
	if d.Type == DiscountTypePercentage {
		return customerPrice.Mul(d.Value).Div(decimal.NewFromInt(100))
	}
	return d.Value
}

// Quote is the pricing breakdown persisted on the resulting transaction
type Quote struct {
	CostPrice      decimal.Decimal
	CustomerPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalPrice     decimal.Decimal
	Markup         decimal.Decimal
	RuleName       string
}

// ProductValueType distinguishes catalog-priced products from
// variable-value products where the customer chooses the send amount
type ProductValueType string

const (
	ProductValueFixed ProductValueType = "fixed"
	ProductValueRange ProductValueType = "range"
)

// Product is the catalog entry a top-up is priced against. For range
// products the min/max send and receive values bound the customer's choice
// and feed the fallback exchange-rate approximation.
type Product struct {
	ID            string
	OperatorID    string
	ValueType     ProductValueType
	WholesaleCost decimal.Decimal
	MinSend       decimal.Decimal
	MaxSend       decimal.Decimal
	MinReceive    decimal.Decimal
	MaxReceive    decimal.Decimal
}

// countryRegions maps ISO 3166-1 alpha-2 codes to the region names used in
// pricing-rule scopes. Destinations outside the map fall into "Other".
var countryRegions = map[string]string{
	"DZ": "Africa", "EG": "Africa", "ET": "Africa", "GH": "Africa",
	"KE": "Africa", "MA": "Africa", "NG": "Africa", "RW": "Africa",
	"SN": "Africa", "TZ": "Africa", "UG": "Africa", "ZA": "Africa", "ZM": "Africa",

	"BD": "Asia", "CN": "Asia", "ID": "Asia", "IN": "Asia", "LK": "Asia",
	"MY": "Asia", "NP": "Asia", "PH": "Asia", "PK": "Asia", "TH": "Asia", "VN": "Asia",

	"DE": "Europe", "ES": "Europe", "FR": "Europe", "GB": "Europe",
	"IT": "Europe", "PL": "Europe", "PT": "Europe", "RO": "Europe", "UA": "Europe",

	"CA": "North America", "CR": "North America", "DO": "North America",
	"GT": "North America", "HN": "North America", "HT": "North America",
	"JM": "North America", "MX": "North America", "SV": "North America", "US": "North America",

	"AR": "South America", "BO": "South America", "BR": "South America",
	"CO": "South America", "EC": "South America", "PE": "South America", "VE": "South America",

	"AE": "Middle East", "IQ": "Middle East", "JO": "Middle East",
	"LB": "Middle East", "SA": "Middle East", "TR": "Middle East", "YE": "Middle East",

	"AU": "Oceania", "FJ": "Oceania", "NZ": "Oceania", "PG": "Oceania",
}

// RegionOf resolves the pricing region for a country code
func RegionOf(country string) string {
	if region, ok := countryRegions[country]; ok {
		return region
	}
	return "Other"
}
