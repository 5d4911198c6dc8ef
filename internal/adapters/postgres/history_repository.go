package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// BalanceHistoryRepository stores the append-only balance audit trail.
// Entries are never updated or deleted.
type BalanceHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewBalanceHistoryRepository(pool *pgxpool.Pool) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{pool: pool}
}

var _ ports.BalanceHistoryRepository = (*BalanceHistoryRepository)(nil)

func (r *BalanceHistoryRepository) Append(ctx context.Context, db ports.DBTX, entry *models.BalanceHistory) error {
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "encode history metadata", err)
	}

	row := runner(db, r.pool).QueryRow(ctx, `
		INSERT INTO balance_history (
			org_id, account_id, amount, type,
			previous_balance, new_balance, description, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		entry.OrgID, entry.AccountID,
		numericFromDecimal(entry.Amount), string(entry.Type),
		numericFromDecimal(entry.PreviousBalance), numericFromDecimal(entry.NewBalance),
		entry.Description, metadata)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "append balance history", err)
	}
	return nil
}

func (r *BalanceHistoryRepository) ListByAccount(ctx context.Context, db ports.DBTX, orgID, accountID string, limit, offset int32) ([]*models.BalanceHistory, error) {
	rows, err := runner(db, r.pool).Query(ctx, `
		SELECT id, org_id, account_id, amount, type,
		       previous_balance, new_balance, description, metadata, created_at
		FROM balance_history
		WHERE org_id = $1 AND account_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		orgID, accountID, limit, offset)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list balance history", err)
	}
	defer rows.Close()

	var entries []*models.BalanceHistory
	for rows.Next() {
		var e models.BalanceHistory
		var amount, prev, next pgtype.Numeric
		var entryType string
		var metadata []byte
		err := rows.Scan(
			&e.ID, &e.OrgID, &e.AccountID, &amount, &entryType,
			&prev, &next, &e.Description, &metadata, &e.CreatedAt,
		)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan balance history", err)
		}
		e.Amount = decimalFromNumeric(amount)
		e.Type = models.BalanceHistoryType(entryType)
		e.PreviousBalance = decimalFromNumeric(prev)
		e.NewBalance = decimalFromNumeric(next)
		if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "decode history metadata", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list balance history", err)
	}
	return entries, nil
}
