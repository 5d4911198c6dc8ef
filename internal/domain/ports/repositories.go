package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
)

// LedgerRepository persists wallet accounts. Mutations are single
// conditional UPDATE statements keyed on the availability predicate so that
// concurrent requests on one account serialize at the row, not in the app.
// A mutation that matches zero rows reports insufficient funds.
type LedgerRepository interface {
	GetByCustomer(ctx context.Context, db DBTX, orgID, customerID string) (*models.LedgerAccount, error)
	GetByCustomerForUpdate(ctx context.Context, db DBTX, orgID, customerID string) (*models.LedgerAccount, error)
	GetOrCreate(ctx context.Context, db DBTX, orgID, customerID, currency string) (*models.LedgerAccount, error)
	Reserve(ctx context.Context, db DBTX, orgID, accountID string, amount decimal.Decimal) error
	ReleaseReservation(ctx context.Context, db DBTX, orgID, accountID string, amount decimal.Decimal) error
	Deduct(ctx context.Context, db DBTX, orgID, accountID string, amount decimal.Decimal, fromReserved bool) error
	Deposit(ctx context.Context, db DBTX, orgID, accountID string, amount decimal.Decimal) error
}

// SpendingCapRepository persists per-staff-member caps
type SpendingCapRepository interface {
	GetByMember(ctx context.Context, db DBTX, orgID, memberID string) (*models.SpendingCap, error)
	RecordUsage(ctx context.Context, db DBTX, orgID, memberID string, amount decimal.Decimal) error
	ResetUsage(ctx context.Context, db DBTX, orgID, memberID string) error
}

// TransactionRepository persists top-up orders. Update is a compare-and-set
// on the expected current status; zero matched rows means the caller lost a
// race or attempted an illegal transition and must re-fetch.
type TransactionRepository interface {
	Create(ctx context.Context, db DBTX, txn *models.Transaction) error
	GetByOrderID(ctx context.Context, db DBTX, orgID, orderID string) (*models.Transaction, error)
	Update(ctx context.Context, db DBTX, txn *models.Transaction, expected domain.TransactionStatus) error
	// ClaimForRetry atomically matches {orderID, orgID, status=failed} and
	// moves the row to processing with retryCount+1 in one statement. Zero
	// matched rows is a retry conflict.
	ClaimForRetry(ctx context.Context, db DBTX, orgID, orderID, claimedBy string) (*models.Transaction, error)
	ListByOrg(ctx context.Context, db DBTX, orgID string, limit, offset int32) ([]*models.Transaction, error)
}

// CustomerRepository is the customer directory consumed by this core
type CustomerRepository interface {
	GetByID(ctx context.Context, db DBTX, orgID, id string) (*models.Customer, error)
	FindByIdentifier(ctx context.Context, db DBTX, orgID, phone, email string) (*models.Customer, error)
	Create(ctx context.Context, db DBTX, customer *models.Customer) error
	Update(ctx context.Context, db DBTX, customer *models.Customer) error
}

// BalanceHistoryRepository appends immutable audit entries
type BalanceHistoryRepository interface {
	Append(ctx context.Context, db DBTX, entry *models.BalanceHistory) error
	ListByAccount(ctx context.Context, db DBTX, orgID, accountID string, limit, offset int32) ([]*models.BalanceHistory, error)
}

// PricingRepository persists markup rules and the storefront discount
type PricingRepository interface {
	ActiveRules(ctx context.Context, db DBTX, orgID string) ([]*models.PricingRule, error)
	ActiveDiscount(ctx context.Context, db DBTX, orgID string) (*models.Discount, error)
	CreateRule(ctx context.Context, db DBTX, rule *models.PricingRule) error
	UpdateRulePriorities(ctx context.Context, db DBTX, orgID string, ruleIDs []string) error
	SetRuleActive(ctx context.Context, db DBTX, orgID, ruleID string, active bool) error
}

// OutboxRepository persists to-be-published events in the same transaction
// as the state change they describe
type OutboxRepository interface {
	Append(ctx context.Context, db DBTX, msg *models.OutboxMessage) error
	PendingMessages(ctx context.Context, db DBTX, limit int32) ([]*models.OutboxMessage, error)
	MarkSent(ctx context.Context, db DBTX, id int64) error
	IncrementRetry(ctx context.Context, db DBTX, id int64) error
	MarkFailed(ctx context.Context, db DBTX, id int64) error
}
