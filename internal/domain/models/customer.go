package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the org-scoped record of an end buyer, keyed by phone number
// or email within the org
type Customer struct {
	ID             string
	OrgID          string
	PhoneNumber    string
	Email          string
	Name           string
	PurchaseCount  int
	TotalSpent     decimal.Decimal
	LastPurchaseAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecordPurchase updates the purchase counters after a completed top-up
func (c *Customer) RecordPurchase(amount decimal.Decimal, at time.Time) {
	c.PurchaseCount++
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.LastPurchaseAt = &at
}
