package models

import (
	"time"
)

// Outbox message statuses
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// Event types emitted by the money-movement core. Delivery and formatting
// belong to downstream consumers; the core only appends outbox rows in the
// same database transaction as the state change they describe.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionRefunded  = "transaction.refunded"
	EventBalanceDeposited     = "balance.deposited"
)

// OutboxMessage is a to-be-published event row. A background sender drains
// pending rows to the broker and marks them sent or, after exhausting
// retries, failed.
type OutboxMessage struct {
	ID         int64
	OrgID      string
	EventType  string
	MessageKey string
	Payload    []byte
	Status     string
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
