package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/observability"
)

// Service owns wallet balances and staff spending caps. Every mutation goes
// through a conditional update in the repository, so two concurrent requests
// on the same account can never both observe the same available balance and
// both spend it.
type Service struct {
	db       ports.DBPort
	accounts ports.LedgerRepository
	caps     ports.SpendingCapRepository
	history  ports.BalanceHistoryRepository
	logger   ports.Logger
}

// NewService creates a ledger service
func NewService(
	db ports.DBPort,
	accounts ports.LedgerRepository,
	caps ports.SpendingCapRepository,
	history ports.BalanceHistoryRepository,
	logger ports.Logger,
) *Service {
	return &Service{
		db:       db,
		accounts: accounts,
		caps:     caps,
		history:  history,
		logger:   logger,
	}
}

// GetAccount returns the wallet for a customer
func (s *Service) GetAccount(ctx context.Context, orgID, customerID string) (*models.LedgerAccount, error) {
	return s.accounts.GetByCustomer(ctx, nil, orgID, customerID)
}

// GetAccountLocked reads the wallet with a row lock held for the rest of the
// surrounding transaction. Balances read this way stay exact for any history
// entry written against them.
func (s *Service) GetAccountLocked(ctx context.Context, tx ports.DBTX, orgID, customerID string) (*models.LedgerAccount, error) {
	return s.accounts.GetByCustomerForUpdate(ctx, tx, orgID, customerID)
}

// Deposit credits a wallet and appends a deposit history entry, creating
// the account on first use
func (s *Service) Deposit(ctx context.Context, orgID, customerID, currency string, amount decimal.Decimal, description string) (*models.LedgerAccount, error) {
	if !amount.IsPositive() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "deposit amount must be positive")
	}

	var account *models.LedgerAccount
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		account, err = s.accounts.GetOrCreate(ctx, tx, orgID, customerID, currency)
		if err != nil {
			return err
		}
		if err := s.accounts.Deposit(ctx, tx, orgID, account.ID, amount); err != nil {
			return err
		}
		entry := &models.BalanceHistory{
			OrgID:           orgID,
			AccountID:       account.ID,
			Amount:          amount,
			Type:            models.HistoryTypeDeposit,
			PreviousBalance: account.Balance,
			NewBalance:      account.Balance.Add(amount),
			Description:     description,
		}
		return s.history.Append(ctx, tx, entry)
	})
	if err != nil {
		observability.RecordLedgerOp("deposit", "error")
		return nil, err
	}

	observability.RecordLedgerOp("deposit", "ok")
	account.Deposit(amount)
	s.logger.Info("wallet deposit",
		ports.String("org_id", orgID),
		ports.String("account_id", account.ID),
		ports.String("amount", amount.String()))
	return account, nil
}

// Reserve earmarks wallet funds inside the caller's transaction
func (s *Service) Reserve(ctx context.Context, tx ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	if err := s.accounts.Reserve(ctx, tx, orgID, accountID, amount); err != nil {
		if domain.IsInsufficientFunds(err) {
			observability.RecordLedgerOp("reserve", "insufficient_funds")
		} else {
			observability.RecordLedgerOp("reserve", "error")
		}
		return err
	}
	observability.RecordLedgerOp("reserve", "ok")
	return nil
}

// ReleaseReservation returns earmarked funds when a reserved transaction is
// abandoned before the spend happened
func (s *Service) ReleaseReservation(ctx context.Context, tx ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	if err := s.accounts.ReleaseReservation(ctx, tx, orgID, accountID, amount); err != nil {
		observability.RecordLedgerOp("release", "error")
		return err
	}
	observability.RecordLedgerOp("release", "ok")
	return nil
}

// DeductForPurchase spends wallet funds for an order and records the usage
// history entry. With fromReserved the spend finalizes an earlier
// reservation and cannot fail on availability.
func (s *Service) DeductForPurchase(ctx context.Context, tx ports.DBTX, orgID string, account *models.LedgerAccount, amount decimal.Decimal, fromReserved bool, orderID string) error {
	if err := s.accounts.Deduct(ctx, tx, orgID, account.ID, amount, fromReserved); err != nil {
		if domain.IsInsufficientFunds(err) {
			observability.RecordLedgerOp("deduct", "insufficient_funds")
		} else {
			observability.RecordLedgerOp("deduct", "error")
		}
		return err
	}

	entry := &models.BalanceHistory{
		OrgID:           orgID,
		AccountID:       account.ID,
		Amount:          amount.Neg(),
		Type:            models.HistoryTypeUsage,
		PreviousBalance: account.Balance,
		NewBalance:      account.Balance.Sub(amount),
		Description:     fmt.Sprintf("top-up order %s", orderID),
		Metadata:        map[string]interface{}{"orderId": orderID},
	}
	if err := s.history.Append(ctx, tx, entry); err != nil {
		return err
	}

	observability.RecordLedgerOp("deduct", "ok")
	return nil
}

// CreditRefund restores wallet funds for a refunded order inside the
// caller's transaction, creating the account if the customer never had one.
// The history entry of type refund references the originating order.
func (s *Service) CreditRefund(ctx context.Context, tx ports.DBTX, orgID, customerID, currency string, amount decimal.Decimal, orderID, reason string) (*models.LedgerAccount, error) {
	account, err := s.accounts.GetOrCreate(ctx, tx, orgID, customerID, currency)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Deposit(ctx, tx, orgID, account.ID, amount); err != nil {
		return nil, err
	}

	entry := &models.BalanceHistory{
		OrgID:           orgID,
		AccountID:       account.ID,
		Amount:          amount,
		Type:            models.HistoryTypeRefund,
		PreviousBalance: account.Balance,
		NewBalance:      account.Balance.Add(amount),
		Description:     fmt.Sprintf("refund for order %s: %s", orderID, reason),
		Metadata:        map[string]interface{}{"orderId": orderID, "reason": reason},
	}
	if err := s.history.Append(ctx, tx, entry); err != nil {
		return nil, err
	}

	account.Deposit(amount)
	return account, nil
}

// CheckStaffSpend enforces the per-member spending cap for preview and team
// transactions. Members without an enabled cap are unlimited.
func (s *Service) CheckStaffSpend(ctx context.Context, tx ports.DBTX, orgID, memberID string, amount decimal.Decimal) error {
	spendCap, err := s.caps.GetByMember(ctx, tx, orgID, memberID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil // no cap configured, unlimited
		}
		return err
	}
	if !spendCap.CanSpend(amount) {
		return domain.ErrSpendingCapReached.
			WithDetail("member_id", memberID).
			WithDetail("max_balance", spendCap.MaxBalance.String()).
			WithDetail("current_used", spendCap.CurrentUsed.String())
	}
	// The repository rechecks the cap inside the update itself, so a rival
	// order cannot overrun the limit between our read and this write.
	if err := s.caps.RecordUsage(ctx, tx, orgID, memberID, amount); err != nil {
		if domain.GetErrorCode(err) == domain.ErrorCodeSpendingCapExceeded {
			return domain.ErrSpendingCapReached.
				WithDetail("member_id", memberID).
				WithDetail("max_balance", spendCap.MaxBalance.String())
		}
		return err
	}
	return nil
}

// ResetSpendingCap clears a member's accumulated usage
func (s *Service) ResetSpendingCap(ctx context.Context, orgID, memberID string) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.caps.ResetUsage(ctx, tx, orgID, memberID)
	})
}
