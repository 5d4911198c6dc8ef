package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/resilience"
	"github.com/airtimehq/topup-core/test/mocks"
)

type fixture struct {
	db        *mocks.MockDBPort
	txns      *mocks.MockTransactionRepository
	customers *mocks.MockCustomerRepository
	outbox    *mocks.MockOutboxRepository
	provider  *mocks.MockTopupProvider
	logger    *mocks.MockLogger
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		db:        mocks.NewMockDBPort(),
		txns:      mocks.NewMockTransactionRepository(),
		customers: mocks.NewMockCustomerRepository(),
		outbox:    mocks.NewMockOutboxRepository(),
		provider:  mocks.NewMockTopupProvider(),
		logger:    mocks.NewMockLogger(),
	}
	f.svc = NewService(f.db, f.txns, f.customers, f.outbox, f.provider, f.logger, resilience.TestTimeoutConfig())
	return f
}

func (f *fixture) seed(t *testing.T, orderID string, status domain.TransactionStatus) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		OrderID:     orderID,
		OrgID:       "org-1",
		Amount:      decimal.NewFromInt(20),
		Currency:    "USD",
		ProductID:   "sku-1",
		Provider:    f.provider.Name(),
		PaymentType: models.PaymentTypeWallet,
		Status:      status,
		Recipient:   models.Recipient{PhoneNumber: "+254700000010"},
	}
	require.NoError(t, f.txns.Create(context.Background(), nil, txn))
	return txn
}

func TestUpdateStatus_LegalTransition(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusPending)

	txn, err := f.svc.UpdateStatus(context.Background(), "org-1", "ord-1", domain.StatusPaid, "", "gateway-webhook")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)
	assert.NotNil(t, txn.Timeline.PaidAt)

	stored := f.txns.Stored("org-1", "ord-1")
	assert.Equal(t, domain.StatusPaid, stored.Status)
}

func TestUpdateStatus_IllegalTransitionNamesBothStates(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusCompleted)

	_, err := f.svc.UpdateStatus(context.Background(), "org-1", "ord-1", domain.StatusPaid, "", "")
	require.Error(t, err)

	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrorCodeTxnInvalidTransition, de.Code)
	assert.Equal(t, "completed", de.Details["from"])
	assert.Equal(t, "paid", de.Details["to"])

	// Stored state is untouched
	assert.Equal(t, domain.StatusCompleted, f.txns.Stored("org-1", "ord-1").Status)
}

func TestUpdateStatus_FailedRequiresReason(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusProcessing)

	_, err := f.svc.UpdateStatus(context.Background(), "org-1", "ord-1", domain.StatusFailed, "", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnReasonRequired, domain.GetErrorCode(err))

	txn, err := f.svc.UpdateStatus(context.Background(), "org-1", "ord-1", domain.StatusFailed, "operator ran dry", "support")
	require.NoError(t, err)
	assert.Equal(t, "operator ran dry", txn.Meta(models.MetaFailureReason))
}

func TestUpdateStatus_CompletionUpsertsCustomer(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusProcessing)

	txn, err := f.svc.UpdateStatus(context.Background(), "org-1", "ord-1", domain.StatusCompleted, "", "")
	require.NoError(t, err)
	require.NotEmpty(t, txn.CustomerID)

	customer, err := f.customers.GetByID(context.Background(), nil, "org-1", txn.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 1, customer.PurchaseCount)
	assert.True(t, customer.TotalSpent.Equal(decimal.NewFromInt(20)))

	assert.Len(t, f.outbox.EventsOfType(models.EventTransactionCompleted), 1)
}

func TestRetry_ReclaimsAndCompletes(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusFailed)
	f.provider.SetTransferResponse(&ports.TransferResult{
		ProviderTransactionID: "prov-2",
		Status:                ports.TransferCompleted,
	}, nil)

	txn, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, 1, txn.RetryCount)
	assert.Equal(t, "prov-2", txn.ProviderTransactionID)
	assert.Equal(t, 1, f.provider.SendCalls)

	// The provider saw a per-attempt reference distinct from the original
	require.NotNil(t, f.provider.LastRequest)
	assert.Equal(t, "ord-1:1", f.provider.LastRequest.IdempotencyRef)
}

func TestRetry_ReconstructsSendAmountFromMetadata(t *testing.T) {
	f := newFixture()
	txn := f.seed(t, "ord-1", domain.StatusFailed)
	txn.SetMeta(models.MetaSendAmount, "500")
	require.NoError(t, f.txns.Update(context.Background(), nil, txn, domain.StatusFailed))

	_, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-a")
	require.NoError(t, err)

	// A variable-value order claimed from storage must dispatch with the
	// original customer-chosen amount
	require.NotNil(t, f.provider.LastRequest)
	require.NotNil(t, f.provider.LastRequest.SendAmount)
	assert.True(t, f.provider.LastRequest.SendAmount.Equal(decimal.NewFromInt(500)))
}

func TestRetry_ConflictWhenAlreadyClaimed(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusProcessing) // someone else already claimed it

	_, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-b")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnRetryConflict, domain.GetErrorCode(err))
	assert.Equal(t, 0, f.provider.SendCalls, "loser must not dispatch")
}

func TestRetry_ExactlyOneWinner(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusFailed)

	// Sequential claims against the same failed order: the first moves it to
	// processing, the second must conflict
	first, err := f.txns.ClaimForRetry(context.Background(), nil, "org-1", "ord-1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, first.Status)

	_, err = f.txns.ClaimForRetry(context.Background(), nil, "org-1", "ord-1", "b")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnRetryConflict, domain.GetErrorCode(err))
}

func TestRetry_NotRetryableProvider(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusFailed)
	f.provider.SetRetryable(false)

	_, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-a")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTxnNotRetryable, domain.GetErrorCode(err))
	assert.Equal(t, domain.StatusFailed, f.txns.Stored("org-1", "ord-1").Status, "no claim must happen")
}

func TestRetry_ProviderFailureLeavesTransactionFailed(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusFailed)
	f.provider.SetTransferResponse(&ports.TransferResult{
		Status:       ports.TransferFailed,
		ErrorCode:    "OPERATOR_DOWN",
		ErrorMessage: "operator unreachable",
	}, nil)

	_, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-a")
	require.NoError(t, err)

	stored := f.txns.Stored("org-1", "ord-1")
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotEmpty(t, stored.Meta(models.MetaFailureReason))
	// Failures on the retry path never auto-refund
	assert.Empty(t, f.outbox.EventsOfType(models.EventTransactionRefunded))
}

func TestRetry_TransportErrorLeavesTransactionFailed(t *testing.T) {
	f := newFixture()
	f.seed(t, "ord-1", domain.StatusFailed)
	f.provider.SetTransferResponse(nil, errors.New("connection reset"))

	_, err := f.svc.Retry(context.Background(), "org-1", "ord-1", "operator-a")
	require.NoError(t, err)

	stored := f.txns.Stored("org-1", "ord-1")
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestDispatch_WrapsProviderError(t *testing.T) {
	f := newFixture()
	txn := f.seed(t, "ord-1", domain.StatusProcessing)
	f.provider.SetTransferResponse(nil, errors.New("boom"))

	_, err := f.svc.Dispatch(context.Background(), txn)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeProviderError, domain.GetErrorCode(err))
}

func TestMarkCompleted_StampsTimelineOnce(t *testing.T) {
	f := newFixture()
	txn := f.seed(t, "ord-1", domain.StatusProcessing)
	earlier := time.Now().Add(-time.Hour)
	txn.Timeline.CompletedAt = &earlier

	done, err := f.svc.MarkCompleted(context.Background(), txn, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, earlier, *done.Timeline.CompletedAt, "first stamp must win")
}
