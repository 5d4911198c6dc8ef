package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerAccount is a customer wallet. The invariant
// balance == availableBalance + reservedBalance holds after every mutation;
// availableBalance never persists negative.
type LedgerAccount struct {
	ID                string
	OrgID             string
	CustomerID        string
	Currency          string
	Balance           decimal.Decimal
	ReservedBalance   decimal.Decimal
	AvailableBalance  decimal.Decimal
	TotalDeposits     decimal.Decimal
	TotalSpent        decimal.Decimal
	IsActive          bool
	LastDepositAt     *time.Time
	LastTransactionAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// recompute keeps the derived field in lockstep with the invariant
func (a *LedgerAccount) recompute() {
	a.AvailableBalance = a.Balance.Sub(a.ReservedBalance)
}

// HasAvailableBalance reports whether the account can afford the amount.
// Zero is always affordable.
func (a *LedgerAccount) HasAvailableBalance(amount decimal.Decimal) bool {
	return a.AvailableBalance.GreaterThanOrEqual(amount)
}

// Reserve earmarks funds for an in-flight transaction whose outcome is not
// yet known. Returns false with no mutation when availability is short.
func (a *LedgerAccount) Reserve(amount decimal.Decimal) bool {
	if !a.HasAvailableBalance(amount) {
		return false
	}
	a.ReservedBalance = a.ReservedBalance.Add(amount)
	a.recompute()
	return true
}

// ReleaseReservation returns earmarked funds to availability. The floor at
// zero guards against a double release.
func (a *LedgerAccount) ReleaseReservation(amount decimal.Decimal) {
	a.ReservedBalance = a.ReservedBalance.Sub(amount)
	if a.ReservedBalance.IsNegative() {
		a.ReservedBalance = decimal.Zero
	}
	a.recompute()
}

// Deduct spends funds. With fromReserved the spend finalizes a previous
// reservation and always succeeds; otherwise the spend is immediate and
// fails when availability is short.
func (a *LedgerAccount) Deduct(amount decimal.Decimal, fromReserved bool) bool {
	if fromReserved {
		a.Balance = a.Balance.Sub(amount)
		a.ReservedBalance = a.ReservedBalance.Sub(amount)
		if a.ReservedBalance.IsNegative() {
			a.ReservedBalance = decimal.Zero
		}
	} else {
		if !a.HasAvailableBalance(amount) {
			return false
		}
		a.Balance = a.Balance.Sub(amount)
	}
	a.recompute()
	a.TotalSpent = a.TotalSpent.Add(amount)
	now := time.Now()
	a.LastTransactionAt = &now
	return true
}

// Deposit credits the account. Reserved balance is untouched.
func (a *LedgerAccount) Deposit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
	a.recompute()
	a.TotalDeposits = a.TotalDeposits.Add(amount)
	now := time.Now()
	a.LastDepositAt = &now
}

// SpendingCap governs per-staff-member spending in preview and team
// transactions. Unlimited unless explicitly enabled; no reserved concept,
// only a running currentUsed compared against maxBalance.
type SpendingCap struct {
	ID          string
	OrgID       string
	MemberID    string
	Enabled     bool
	MaxBalance  decimal.Decimal
	CurrentUsed decimal.Decimal
	UpdatedAt   time.Time
}

// CanSpend reports whether the member may spend the amount
func (c *SpendingCap) CanSpend(amount decimal.Decimal) bool {
	if !c.Enabled {
		return true
	}
	return c.CurrentUsed.Add(amount).LessThanOrEqual(c.MaxBalance)
}

// Spend records usage against the cap, failing when the cap would be broken
func (c *SpendingCap) Spend(amount decimal.Decimal) bool {
	if !c.CanSpend(amount) {
		return false
	}
	c.CurrentUsed = c.CurrentUsed.Add(amount)
	return true
}

// Reset clears accumulated usage (e.g. on a billing-period rollover)
func (c *SpendingCap) Reset() {
	c.CurrentUsed = decimal.Zero
}

// BalanceHistoryType classifies an append-only ledger entry
type BalanceHistoryType string

const (
	HistoryTypeUsage       BalanceHistoryType = "usage"
	HistoryTypeReset       BalanceHistoryType = "reset"
	HistoryTypeLimitUpdate BalanceHistoryType = "limit_update"
	HistoryTypeRefund      BalanceHistoryType = "refund"
	HistoryTypeDeposit     BalanceHistoryType = "deposit"
)

// BalanceHistory is an immutable audit entry for a balance mutation. It is
// never read back to derive the current balance.
type BalanceHistory struct {
	ID              string
	OrgID           string
	AccountID       string
	Amount          decimal.Decimal
	Type            BalanceHistoryType
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Description     string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}
