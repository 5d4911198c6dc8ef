package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// SpendingCapRepository stores per-staff-member spending caps
type SpendingCapRepository struct {
	pool *pgxpool.Pool
}

func NewSpendingCapRepository(pool *pgxpool.Pool) *SpendingCapRepository {
	return &SpendingCapRepository{pool: pool}
}

var _ ports.SpendingCapRepository = (*SpendingCapRepository)(nil)

func (r *SpendingCapRepository) GetByMember(ctx context.Context, db ports.DBTX, orgID, memberID string) (*models.SpendingCap, error) {
	var c models.SpendingCap
	var max, used pgtype.Numeric
	err := runner(db, r.pool).QueryRow(ctx, `
		SELECT id, org_id, member_id, enabled, max_balance, current_used, updated_at
		FROM spending_caps
		WHERE org_id = $1 AND member_id = $2`,
		orgID, memberID).
		Scan(&c.ID, &c.OrgID, &c.MemberID, &c.Enabled, &max, &used, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No cap row means unlimited; callers treat absence as such
			return nil, domain.ErrAccountNotFound.WithDetail("memberId", memberID)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get spending cap", err)
	}
	c.MaxBalance = decimalFromNumeric(max)
	c.CurrentUsed = decimalFromNumeric(used)
	return &c, nil
}

// RecordUsage accumulates usage as a single conditional update. The cap
// predicate lives in the WHERE clause so two staff orders racing on the
// same member cannot both slip under the limit; zero rows affected means
// the cap would be exceeded.
func (r *SpendingCapRepository) RecordUsage(ctx context.Context, db ports.DBTX, orgID, memberID string, amount decimal.Decimal) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE spending_caps
		SET current_used = current_used + $3,
		    updated_at = now()
		WHERE org_id = $1 AND member_id = $2
		  AND (NOT enabled OR current_used + $3 <= max_balance)`,
		orgID, memberID, numericFromDecimal(amount))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "record cap usage", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSpendingCapReached.WithDetail("memberId", memberID)
	}
	return nil
}

func (r *SpendingCapRepository) ResetUsage(ctx context.Context, db ports.DBTX, orgID, memberID string) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE spending_caps
		SET current_used = 0,
		    updated_at = now()
		WHERE org_id = $1 AND member_id = $2`,
		orgID, memberID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "reset cap usage", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound.WithDetail("memberId", memberID)
	}
	return nil
}
