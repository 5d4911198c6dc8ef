package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(balance, reserved int64) *LedgerAccount {
	a := &LedgerAccount{
		Balance:         decimal.NewFromInt(balance),
		ReservedBalance: decimal.NewFromInt(reserved),
		IsActive:        true,
	}
	a.AvailableBalance = a.Balance.Sub(a.ReservedBalance)
	return a
}

func assertInvariant(t *testing.T, a *LedgerAccount) {
	t.Helper()
	assert.True(t, a.Balance.Equal(a.AvailableBalance.Add(a.ReservedBalance)),
		"balance %s != available %s + reserved %s",
		a.Balance, a.AvailableBalance, a.ReservedBalance)
	assert.False(t, a.AvailableBalance.IsNegative(), "available balance went negative")
	assert.False(t, a.ReservedBalance.IsNegative(), "reserved balance went negative")
}

func TestLedgerAccount_ReserveThenDeduct(t *testing.T) {
	a := newAccount(1000, 0)

	require.True(t, a.Reserve(decimal.NewFromInt(200)))
	assertInvariant(t, a)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(800)))
	assert.True(t, a.ReservedBalance.Equal(decimal.NewFromInt(200)))

	require.True(t, a.Deduct(decimal.NewFromInt(200), true))
	assertInvariant(t, a)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(800)))
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(800)))
	assert.True(t, a.ReservedBalance.Equal(decimal.Zero))
	assert.True(t, a.TotalSpent.Equal(decimal.NewFromInt(200)))
	assert.NotNil(t, a.LastTransactionAt)
}

func TestLedgerAccount_ReserveBeyondAvailability(t *testing.T) {
	a := newAccount(500, 450)

	ok := a.Reserve(decimal.NewFromInt(100))

	assert.False(t, ok, "reserve must fail when availability is short")
	assertInvariant(t, a)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(500)), "balance must be untouched")
	assert.True(t, a.ReservedBalance.Equal(decimal.NewFromInt(450)), "reserved must be untouched")
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(50)))
}

func TestLedgerAccount_ReserveExactAvailability(t *testing.T) {
	a := newAccount(500, 450)

	require.True(t, a.Reserve(decimal.NewFromInt(50)))
	assertInvariant(t, a)
	assert.True(t, a.AvailableBalance.Equal(decimal.Zero))
}

func TestLedgerAccount_DeductDirect(t *testing.T) {
	a := newAccount(100, 30)

	assert.False(t, a.Deduct(decimal.NewFromInt(80), false),
		"direct deduct must respect reserved funds")
	assertInvariant(t, a)

	require.True(t, a.Deduct(decimal.NewFromInt(70), false))
	assertInvariant(t, a)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(30)))
	assert.True(t, a.AvailableBalance.Equal(decimal.Zero))
	assert.True(t, a.ReservedBalance.Equal(decimal.NewFromInt(30)))
}

func TestLedgerAccount_ReleaseReservation(t *testing.T) {
	a := newAccount(1000, 200)

	a.ReleaseReservation(decimal.NewFromInt(200))
	assertInvariant(t, a)
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(1000)))

	// Double release floors at zero instead of going negative
	a.ReleaseReservation(decimal.NewFromInt(200))
	assertInvariant(t, a)
	assert.True(t, a.ReservedBalance.Equal(decimal.Zero))
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(1000)))
}

func TestLedgerAccount_Deposit(t *testing.T) {
	a := newAccount(0, 0)

	a.Deposit(decimal.NewFromInt(250))
	assertInvariant(t, a)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(250)))
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(250)))
	assert.True(t, a.TotalDeposits.Equal(decimal.NewFromInt(250)))
	assert.NotNil(t, a.LastDepositAt)
}

func TestLedgerAccount_DepositDoesNotTouchReserved(t *testing.T) {
	a := newAccount(100, 40)

	a.Deposit(decimal.NewFromInt(60))
	assertInvariant(t, a)
	assert.True(t, a.ReservedBalance.Equal(decimal.NewFromInt(40)))
	assert.True(t, a.AvailableBalance.Equal(decimal.NewFromInt(120)))
}

func TestLedgerAccount_ZeroIsAlwaysAffordable(t *testing.T) {
	a := newAccount(0, 0)
	assert.True(t, a.HasAvailableBalance(decimal.Zero))
	assert.True(t, a.Reserve(decimal.Zero))
	assertInvariant(t, a)
}

func TestSpendingCap(t *testing.T) {
	t.Run("disabled cap is unlimited", func(t *testing.T) {
		c := &SpendingCap{Enabled: false, MaxBalance: decimal.NewFromInt(10)}
		assert.True(t, c.CanSpend(decimal.NewFromInt(1_000_000)))
	})

	t.Run("enabled cap enforces max", func(t *testing.T) {
		c := &SpendingCap{
			Enabled:     true,
			MaxBalance:  decimal.NewFromInt(100),
			CurrentUsed: decimal.NewFromInt(80),
		}
		assert.True(t, c.CanSpend(decimal.NewFromInt(20)))
		assert.False(t, c.CanSpend(decimal.NewFromInt(21)))

		require.True(t, c.Spend(decimal.NewFromInt(20)))
		assert.True(t, c.CurrentUsed.Equal(decimal.NewFromInt(100)))
		assert.False(t, c.Spend(decimal.NewFromInt(1)))
	})

	t.Run("reset clears usage", func(t *testing.T) {
		c := &SpendingCap{
			Enabled:     true,
			MaxBalance:  decimal.NewFromInt(100),
			CurrentUsed: decimal.NewFromInt(100),
		}
		c.Reset()
		assert.True(t, c.CurrentUsed.Equal(decimal.Zero))
		assert.True(t, c.CanSpend(decimal.NewFromInt(100)))
	})
}
