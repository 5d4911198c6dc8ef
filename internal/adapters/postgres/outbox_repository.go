package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// OutboxRepository stores to-be-published event rows. Appends happen in the
// same transaction as the state change they describe; the sender job drains
// pending rows outside any business transaction.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) Append(ctx context.Context, db ports.DBTX, msg *models.OutboxMessage) error {
	row := runner(db, r.pool).QueryRow(ctx, `
		INSERT INTO outbox_messages (org_id, event_type, message_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		msg.OrgID, msg.EventType, msg.MessageKey, msg.Payload, models.OutboxStatusPending)
	if err := row.Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "append outbox message", err)
	}
	msg.Status = models.OutboxStatusPending
	return nil
}

// PendingMessages claims a batch for sending. SKIP LOCKED lets multiple
// sender instances drain the table without stepping on each other.
func (r *OutboxRepository) PendingMessages(ctx context.Context, db ports.DBTX, limit int32) ([]*models.OutboxMessage, error) {
	rows, err := runner(db, r.pool).Query(ctx, `
		SELECT id, org_id, event_type, message_key, payload, status, retry_count, created_at, updated_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		models.OutboxStatusPending, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list pending outbox messages", err)
	}
	defer rows.Close()

	var msgs []*models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		err := rows.Scan(&m.ID, &m.OrgID, &m.EventType, &m.MessageKey, &m.Payload,
			&m.Status, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan outbox message", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list pending outbox messages", err)
	}
	return msgs, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, db ports.DBTX, id int64) error {
	return r.setStatus(ctx, db, id, models.OutboxStatusSent)
}

func (r *OutboxRepository) IncrementRetry(ctx context.Context, db ports.DBTX, id int64) error {
	_, err := runner(db, r.pool).Exec(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "increment outbox retry", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, db ports.DBTX, id int64) error {
	return r.setStatus(ctx, db, id, models.OutboxStatusFailed)
}

func (r *OutboxRepository) setStatus(ctx context.Context, db ports.DBTX, id int64, status string) error {
	_, err := runner(db, r.pool).Exec(ctx, `
		UPDATE outbox_messages
		SET status = $2, updated_at = now()
		WHERE id = $1`,
		id, status)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "update outbox status", err)
	}
	return nil
}
