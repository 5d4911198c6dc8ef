package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/internal/services/ledger"
	"github.com/airtimehq/topup-core/internal/services/pricing"
	"github.com/airtimehq/topup-core/internal/services/refund"
	"github.com/airtimehq/topup-core/internal/services/transaction"
	"github.com/airtimehq/topup-core/pkg/resilience"
	"github.com/airtimehq/topup-core/test/mocks"
)

type fixture struct {
	db        *mocks.MockDBPort
	txns      *mocks.MockTransactionRepository
	customers *mocks.MockCustomerRepository
	accounts  *mocks.MockLedgerRepository
	history   *mocks.MockBalanceHistoryRepository
	outbox    *mocks.MockOutboxRepository
	rules     *mocks.MockPricingRepository
	provider  *mocks.MockTopupProvider
	locker    *mocks.MockAccountLocker
	logger    *mocks.MockLogger
	svc       *Service
}

func newFixture(reserveFirst bool) *fixture {
	f := &fixture{
		db:        mocks.NewMockDBPort(),
		txns:      mocks.NewMockTransactionRepository(),
		customers: mocks.NewMockCustomerRepository(),
		accounts:  mocks.NewMockLedgerRepository(),
		history:   mocks.NewMockBalanceHistoryRepository(),
		outbox:    mocks.NewMockOutboxRepository(),
		rules:     mocks.NewMockPricingRepository(),
		provider:  mocks.NewMockTopupProvider(),
		locker:    mocks.NewMockAccountLocker(),
		logger:    mocks.NewMockLogger(),
	}

	// 20% markup on everything so a cost of 10 prices at 12
	f.rules.Rules = []*models.PricingRule{{
		Name:             "standard",
		Priority:         1,
		IsActive:         true,
		Scope:            models.ScopeAll,
		PercentageMarkup: decimal.NewFromInt(20),
	}}

	ledgerSvc := ledger.NewService(f.db, f.accounts, mocks.NewMockSpendingCapRepository(), f.history, f.logger)
	engine := pricing.NewEngine(f.rules, f.logger)
	lifecycleSvc := transaction.NewService(f.db, f.txns, f.customers, f.outbox, f.provider, f.logger, resilience.TestTimeoutConfig())
	refundSvc := refund.NewService(f.db, f.txns, f.customers, f.outbox, ledgerSvc, f.logger)
	f.svc = NewService(f.db, f.txns, engine, ledgerSvc, lifecycleSvc, refundSvc,
		f.provider, f.locker, f.logger, reserveFirst)
	return f
}

func walletRequest(customerID string) Request {
	return Request{
		OrgID:      "org-1",
		CustomerID: customerID,
		OrderID:    "ord-1",
		Currency:   "USD",
		Product: models.Product{
			ID:            "sku-1",
			ValueType:     models.ProductValueFixed,
			WholesaleCost: decimal.NewFromInt(10),
		},
		Operator:    models.Operator{ID: "op-1", Name: "Safari", Country: "KE"},
		Recipient:   models.Recipient{PhoneNumber: "+254700000020"},
		PaymentType: models.PaymentTypeWallet,
	}
}

func TestCheckout_WalletHappyPath(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)

	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(12)), "final price %s", txn.Amount)
	assert.Equal(t, "12", txn.Meta(models.MetaFinalPrice))
	assert.Equal(t, "10", txn.Meta(models.MetaCostPrice))
	assert.Equal(t, "standard", txn.Meta(models.MetaPricingRuleName))

	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(88)), "balance %s", acct.Balance)
	assert.True(t, acct.ReservedBalance.Equal(decimal.Zero))

	// The audit trail records the balances the deduction actually saw
	usage := f.history.EntriesOfType(models.HistoryTypeUsage)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].PreviousBalance.Equal(decimal.NewFromInt(100)), "previous %s", usage[0].PreviousBalance)
	assert.True(t, usage[0].NewBalance.Equal(decimal.NewFromInt(88)), "new %s", usage[0].NewBalance)

	require.NotNil(t, f.provider.LastRequest)
	assert.Equal(t, "ord-1:0", f.provider.LastRequest.IdempotencyRef)

	assert.Len(t, f.outbox.EventsOfType(models.EventTransactionCompleted), 1)
	assert.Equal(t, 1, f.locker.AcquireCalls)
	assert.Equal(t, 1, f.locker.ReleaseCalls)
}

func TestCheckout_InsufficientFundsAborts(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(5), decimal.Zero)

	_, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))

	assert.Equal(t, 0, f.provider.SendCalls, "nothing may be dispatched without funds")
	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(5)), "balance must be untouched")
}

func TestCheckout_InactiveAccountRejected(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	acct := f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	acct.IsActive = false

	_, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeLedgerAccountInactive, domain.GetErrorCode(err))
	assert.Equal(t, 0, f.provider.SendCalls)
}

func TestCheckout_ProviderFailureAutoRefunds(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetTransferResponse(&ports.TransferResult{
		Status:       ports.TransferFailed,
		ErrorCode:    "OPERATOR_DOWN",
		ErrorMessage: "operator unreachable",
	}, nil)

	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)

	// The failed marking and the compensation resolve as a pair: the order
	// ends refunded and the wallet is whole again
	assert.Equal(t, domain.StatusRefunded, txn.Status)
	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(100)), "balance %s", acct.Balance)

	require.Len(t, f.history.EntriesOfType(models.HistoryTypeRefund), 1)
	assert.Len(t, f.outbox.EventsOfType(models.EventTransactionFailed), 1)
	assert.Len(t, f.outbox.EventsOfType(models.EventTransactionRefunded), 1)
}

func TestCheckout_TransportErrorAutoRefunds(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetTransferResponse(nil, errors.New("connection reset"))

	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, txn.Status)
	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(100)))
}

func TestCheckout_ReserveFirstSuccess(t *testing.T) {
	f := newFixture(true)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)

	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)

	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(88)))
	assert.True(t, acct.ReservedBalance.Equal(decimal.Zero), "reservation must be finalized")
}

func TestCheckout_ReserveFirstFailureReleases(t *testing.T) {
	f := newFixture(true)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetTransferResponse(&ports.TransferResult{Status: ports.TransferFailed}, nil)

	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)

	// Reserve-first failure releases the earmark; no refund pipeline runs
	assert.Equal(t, domain.StatusFailed, txn.Status)
	acct := f.accounts.Account("org-1", customer.ID)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, acct.ReservedBalance.Equal(decimal.Zero))
	assert.Empty(t, f.history.EntriesOfType(models.HistoryTypeRefund))
}

func TestCheckout_GatewayOrderSkipsWallet(t *testing.T) {
	f := newFixture(false)
	req := walletRequest("")
	req.PaymentType = models.PaymentTypeGateway
	req.Gateway = "stripe"

	txn, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, 0, f.locker.AcquireCalls, "gateway orders take no account lock")
	assert.Empty(t, f.history.Entries, "no wallet movement for gateway funding")
}

func TestCheckout_GatewayFailureNoWalletTouch(t *testing.T) {
	f := newFixture(false)
	f.provider.SetTransferResponse(&ports.TransferResult{Status: ports.TransferFailed}, nil)
	req := walletRequest("")
	req.PaymentType = models.PaymentTypeGateway

	txn, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, txn.Status)
	assert.Empty(t, f.history.Entries)
}

func TestCheckout_NonPositiveCostRejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(false)
	req := walletRequest("cust-x")
	req.Product.WholesaleCost = decimal.Zero

	_, err := f.svc.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodePricingInvalidCost, domain.GetErrorCode(err))
	assert.Nil(t, f.txns.Stored("org-1", "ord-1"), "no transaction row may exist")
}

func TestCheckout_StaffCapEnforced(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)

	caps := mocks.NewMockSpendingCapRepository()
	caps.Seed(&models.SpendingCap{
		OrgID:       "org-1",
		MemberID:    "member-1",
		Enabled:     true,
		MaxBalance:  decimal.NewFromInt(10),
		CurrentUsed: decimal.NewFromInt(5),
	})
	ledgerSvc := ledger.NewService(f.db, f.accounts, caps, f.history, f.logger)
	engine := pricing.NewEngine(f.rules, f.logger)
	lifecycleSvc := transaction.NewService(f.db, f.txns, f.customers, f.outbox, f.provider, f.logger, resilience.TestTimeoutConfig())
	refundSvc := refund.NewService(f.db, f.txns, f.customers, f.outbox, ledgerSvc, f.logger)
	svc := NewService(f.db, f.txns, engine, ledgerSvc, lifecycleSvc, refundSvc,
		f.provider, f.locker, f.logger, false)

	req := walletRequest(customer.ID)
	req.MemberID = "member-1"

	// Price is 12, cap headroom is 5
	_, err := svc.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSpendingCapExceeded, domain.GetErrorCode(err))
	assert.Equal(t, 0, f.provider.SendCalls)
}

func TestCheckout_RangeProductUsesProviderEstimate(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetEstimateResponse(decimal.NewFromInt(10), nil)

	send := decimal.NewFromInt(500)
	req := walletRequest(customer.ID)
	req.Product = models.Product{
		ID:         "sku-range",
		ValueType:  models.ProductValueRange,
		MinSend:    decimal.NewFromInt(1),
		MinReceive: decimal.NewFromInt(50),
	}
	req.SendAmount = &send

	txn, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 1, f.provider.EstimateCalls)
}

func TestCheckout_RangeProductDispatchCarriesSendAmount(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetEstimateResponse(decimal.NewFromInt(10), nil)

	send := decimal.NewFromInt(500)
	req := walletRequest(customer.ID)
	req.Product = models.Product{
		ID:         "sku-range",
		ValueType:  models.ProductValueRange,
		MinSend:    decimal.NewFromInt(1),
		MinReceive: decimal.NewFromInt(50),
	}
	req.SendAmount = &send

	txn, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	// The provider must be told how much to deliver, and the amount must be
	// persisted so a later retry can reconstruct the dispatch
	require.NotNil(t, f.provider.LastRequest)
	require.NotNil(t, f.provider.LastRequest.SendAmount)
	assert.True(t, f.provider.LastRequest.SendAmount.Equal(send))
	assert.Equal(t, "500", txn.Meta(models.MetaSendAmount))
}

func TestCheckout_FixedProductDispatchOmitsSendAmount(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)

	_, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)

	require.NotNil(t, f.provider.LastRequest)
	assert.Nil(t, f.provider.LastRequest.SendAmount)
}

func TestCheckout_RangeProductFallsBackToRatio(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.provider.SetEstimateResponse(decimal.Zero, errors.New("estimate unavailable"))

	send := decimal.NewFromInt(500)
	req := walletRequest(customer.ID)
	req.Product = models.Product{
		ID:         "sku-range",
		ValueType:  models.ProductValueRange,
		MinSend:    decimal.NewFromInt(1),
		MinReceive: decimal.NewFromInt(50),
	}
	req.SendAmount = &send

	// Fallback cost 500 * 1/50 = 10, plus 20% markup
	txn, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(12)), "amount %s", txn.Amount)
	assert.True(t, f.logger.HasMessage("provider cost estimate unavailable, using approximate min send/receive exchange rate"))
}

func TestCheckout_RangeProductRequiresSendAmount(t *testing.T) {
	f := newFixture(false)
	req := walletRequest("cust-x")
	req.Product.ValueType = models.ProductValueRange

	_, err := f.svc.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeValidationAmountInvalid, domain.GetErrorCode(err))
}

func TestCheckout_DuplicateOrderRejected(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)

	_, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)

	_, err = f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnDuplicateOrder, domain.GetErrorCode(err))
}

func TestCheckout_LockDenialStillServes(t *testing.T) {
	f := newFixture(false)
	customer := f.customers.Seed(&models.Customer{OrgID: "org-1", PhoneNumber: "+254700000020"})
	f.accounts.Seed("org-1", customer.ID, decimal.NewFromInt(100), decimal.Zero)
	f.locker.Denied = true

	// The lock is an optimization; the conditional update remains the
	// guarantee, so a denied lock does not fail the checkout
	txn, err := f.svc.Checkout(context.Background(), walletRequest(customer.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
}
