package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

const accountColumns = `
	id, org_id, customer_id, currency,
	balance, reserved_balance, total_deposits, total_spent,
	is_active, last_deposit_at, last_transaction_at, created_at, updated_at`

// LedgerRepository stores wallet accounts. Every balance mutation is a
// single conditional UPDATE so that concurrent requests against one account
// serialize on the row; the WHERE clause carries the funds predicate and a
// zero-row result means the predicate failed.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

func (r *LedgerRepository) GetByCustomer(ctx context.Context, db ports.DBTX, orgID, customerID string) (*models.LedgerAccount, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		SELECT`+accountColumns+`
		FROM ledger_accounts
		WHERE org_id = $1 AND customer_id = $2`,
		orgID, customerID)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound.WithDetail("customerId", customerID)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get ledger account", err)
	}
	return account, nil
}

// GetByCustomerForUpdate selects the account with a row lock. Callers inside
// a transaction hold the account until commit, so the balances they read are
// the ones their mutation applies against.
func (r *LedgerRepository) GetByCustomerForUpdate(ctx context.Context, db ports.DBTX, orgID, customerID string) (*models.LedgerAccount, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		SELECT`+accountColumns+`
		FROM ledger_accounts
		WHERE org_id = $1 AND customer_id = $2
		FOR UPDATE`,
		orgID, customerID)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound.WithDetail("customerId", customerID)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get ledger account for update", err)
	}
	return account, nil
}

// GetOrCreate inserts the account row when absent and then selects it with
// a row lock. Callers inside a transaction therefore hold the account for
// the remainder of the transaction, which keeps history previous/new
// balances consistent with the mutation they describe.
func (r *LedgerRepository) GetOrCreate(ctx context.Context, db ports.DBTX, orgID, customerID, currency string) (*models.LedgerAccount, error) {
	q := runner(db, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO ledger_accounts (org_id, customer_id, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, customer_id) DO NOTHING`,
		orgID, customerID, currency)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "create ledger account", err)
	}

	row := q.QueryRow(ctx, `
		SELECT`+accountColumns+`
		FROM ledger_accounts
		WHERE org_id = $1 AND customer_id = $2
		FOR UPDATE`,
		orgID, customerID)

	account, err := scanAccount(row)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get ledger account", err)
	}
	return account, nil
}

func (r *LedgerRepository) Reserve(ctx context.Context, db ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE ledger_accounts
		SET reserved_balance = reserved_balance + $3,
		    updated_at = now()
		WHERE org_id = $1 AND id = $2
		  AND is_active
		  AND balance - reserved_balance >= $3`,
		orgID, accountID, numericFromDecimal(amount))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "reserve funds", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds.WithDetail("accountId", accountID)
	}
	return nil
}

func (r *LedgerRepository) ReleaseReservation(ctx context.Context, db ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE ledger_accounts
		SET reserved_balance = GREATEST(reserved_balance - $3, 0),
		    updated_at = now()
		WHERE org_id = $1 AND id = $2`,
		orgID, accountID, numericFromDecimal(amount))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "release reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound.WithDetail("accountId", accountID)
	}
	return nil
}

func (r *LedgerRepository) Deduct(ctx context.Context, db ports.DBTX, orgID, accountID string, amount decimal.Decimal, fromReserved bool) error {
	q := runner(db, r.pool)
	n := numericFromDecimal(amount)

	var tag pgconn.CommandTag
	var err error
	if fromReserved {
		// Finalizes an existing reservation; the funds predicate was
		// enforced when the reservation was taken.
		tag, err = q.Exec(ctx, `
			UPDATE ledger_accounts
			SET balance = balance - $3,
			    reserved_balance = GREATEST(reserved_balance - $3, 0),
			    total_spent = total_spent + $3,
			    last_transaction_at = now(),
			    updated_at = now()
			WHERE org_id = $1 AND id = $2
			  AND balance >= $3`,
			orgID, accountID, n)
	} else {
		tag, err = q.Exec(ctx, `
			UPDATE ledger_accounts
			SET balance = balance - $3,
			    total_spent = total_spent + $3,
			    last_transaction_at = now(),
			    updated_at = now()
			WHERE org_id = $1 AND id = $2
			  AND is_active
			  AND balance - reserved_balance >= $3`,
			orgID, accountID, n)
	}
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "deduct funds", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds.WithDetail("accountId", accountID)
	}
	return nil
}

func (r *LedgerRepository) Deposit(ctx context.Context, db ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = balance + $3,
		    total_deposits = total_deposits + $3,
		    last_deposit_at = now(),
		    updated_at = now()
		WHERE org_id = $1 AND id = $2`,
		orgID, accountID, numericFromDecimal(amount))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "deposit funds", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound.WithDetail("accountId", accountID)
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.LedgerAccount, error) {
	var a models.LedgerAccount
	var balance, reserved, deposits, spent pgtype.Numeric
	err := row.Scan(
		&a.ID, &a.OrgID, &a.CustomerID, &a.Currency,
		&balance, &reserved, &deposits, &spent,
		&a.IsActive, &a.LastDepositAt, &a.LastTransactionAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Balance = decimalFromNumeric(balance)
	a.ReservedBalance = decimalFromNumeric(reserved)
	a.AvailableBalance = a.Balance.Sub(a.ReservedBalance)
	a.TotalDeposits = decimalFromNumeric(deposits)
	a.TotalSpent = decimalFromNumeric(spent)
	return &a, nil
}
