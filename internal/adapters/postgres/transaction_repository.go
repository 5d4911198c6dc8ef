package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// Postgres unique_violation
const pgUniqueViolation = "23505"

const transactionColumns = `
	id, order_id, org_id, customer_id,
	amount, currency, product_id,
	operator, recipient,
	provider, provider_transaction_id, payment_gateway, payment_type,
	status, timeline, metadata, retry_count,
	created_at, updated_at`

// TransactionRepository stores top-up orders. Status writes are
// compare-and-set on the expected current status so concurrent writers
// cannot both finalize one order.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

var _ ports.TransactionRepository = (*TransactionRepository)(nil)

func (r *TransactionRepository) Create(ctx context.Context, db ports.DBTX, txn *models.Transaction) error {
	operator, err := marshalJSON(txn.Operator)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode operator", err)
	}
	recipient, err := marshalJSON(txn.Recipient)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode recipient", err)
	}
	timeline, err := marshalJSON(txn.Timeline)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode timeline", err)
	}
	metadata, err := marshalJSON(txn.Metadata)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode metadata", err)
	}

	row := runner(db, r.pool).QueryRow(ctx, `
		INSERT INTO transactions (
			order_id, org_id, customer_id,
			amount, currency, product_id,
			operator, recipient,
			provider, provider_transaction_id, payment_gateway, payment_type,
			status, timeline, metadata, retry_count
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING id, created_at, updated_at`,
		txn.OrderID, txn.OrgID, txn.CustomerID,
		numericFromDecimal(txn.Amount), txn.Currency, txn.ProductID,
		operator, recipient,
		txn.Provider, txn.ProviderTransactionID, txn.PaymentGateway, string(txn.PaymentType),
		string(txn.Status), timeline, metadata, txn.RetryCount)

	if err := row.Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrDuplicateOrder.WithDetail("orderId", txn.OrderID)
		}
		return domain.WrapError(domain.ErrorCodeDatabaseError, "create transaction", err)
	}
	return nil
}

func (r *TransactionRepository) GetByOrderID(ctx context.Context, db ports.DBTX, orgID, orderID string) (*models.Transaction, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		SELECT`+transactionColumns+`
		FROM transactions
		WHERE org_id = $1 AND order_id = $2`,
		orgID, orderID)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTxnNotFound.WithDetail("orderId", orderID)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get transaction", err)
	}
	return txn, nil
}

// Update persists the transaction guarded by the status the caller last
// observed. A zero-row result means another writer moved the order first;
// the caller must re-fetch and re-validate.
func (r *TransactionRepository) Update(ctx context.Context, db ports.DBTX, txn *models.Transaction, expected domain.TransactionStatus) error {
	timeline, err := marshalJSON(txn.Timeline)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode timeline", err)
	}
	metadata, err := marshalJSON(txn.Metadata)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode metadata", err)
	}

	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE transactions
		SET customer_id = $4,
		    status = $5,
		    provider_transaction_id = $6,
		    timeline = $7,
		    metadata = $8,
		    retry_count = $9,
		    updated_at = now()
		WHERE org_id = $1 AND order_id = $2 AND status = $3`,
		txn.OrgID, txn.OrderID, string(expected),
		txn.CustomerID, string(txn.Status), txn.ProviderTransactionID,
		timeline, metadata, txn.RetryCount)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeTxnInvalidTransition,
			"transaction was modified concurrently, transition no longer valid").
			WithDetail("orderId", txn.OrderID).
			WithDetail("expectedStatus", string(expected))
	}
	return nil
}

// ClaimForRetry moves a failed order to processing and bumps its retry
// counter in one statement. Losing the race, or claiming an order that is
// not failed, matches zero rows and reports a retry conflict.
func (r *TransactionRepository) ClaimForRetry(ctx context.Context, db ports.DBTX, orgID, orderID, claimedBy string) (*models.Transaction, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		UPDATE transactions
		SET status = $4,
		    retry_count = retry_count + 1,
		    metadata = metadata || jsonb_build_object('retriedBy', $3::text, 'retriedAt', now()::text),
		    updated_at = now()
		WHERE org_id = $1 AND order_id = $2 AND status = $5
		RETURNING`+transactionColumns,
		orgID, orderID, claimedBy,
		string(domain.StatusProcessing), string(domain.StatusFailed))

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTxnRetryConflict.WithDetail("orderId", orderID)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "claim transaction for retry", err)
	}
	return txn, nil
}

func (r *TransactionRepository) ListByOrg(ctx context.Context, db ports.DBTX, orgID string, limit, offset int32) ([]*models.Transaction, error) {
	rows, err := runner(db, r.pool).Query(ctx, `
		SELECT`+transactionColumns+`
		FROM transactions
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list transactions", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan transaction", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list transactions", err)
	}
	return txns, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount pgtype.Numeric
	var operator, recipient, timeline, metadata []byte
	var paymentType, status string

	err := row.Scan(
		&t.ID, &t.OrderID, &t.OrgID, &t.CustomerID,
		&amount, &t.Currency, &t.ProductID,
		&operator, &recipient,
		&t.Provider, &t.ProviderTransactionID, &t.PaymentGateway, &paymentType,
		&status, &timeline, &metadata, &t.RetryCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Amount = decimalFromNumeric(amount)
	t.PaymentType = models.PaymentType(paymentType)
	t.Status = domain.TransactionStatus(status)
	if err := unmarshalJSON(operator, &t.Operator); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(recipient, &t.Recipient); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(timeline, &t.Timeline); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}
