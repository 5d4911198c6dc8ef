package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferStatus is the fulfillment provider's verdict on a dispatch
type TransferStatus string

const (
	TransferCompleted  TransferStatus = "Completed"
	TransferProcessing TransferStatus = "Processing"
	TransferFailed     TransferStatus = "Failed"
)

// TransferRequest dispatches one top-up to the provider. IdempotencyRef is
// stable per attempt (orderID plus retry counter) so the provider can
// deduplicate our retries on its side.
type TransferRequest struct {
	ProductID      string
	PhoneNumber    string
	Country        string
	SendAmount     *decimal.Decimal
	IdempotencyRef string
}

// TransferResult is the provider's response to a dispatch
type TransferResult struct {
	ProviderTransactionID string
	Status                TransferStatus
	ErrorCode             string
	ErrorMessage          string
}

// TopupProvider is the narrow contract with the external fulfillment
// vendor. Transport concerns (auth, retries, response parsing) live behind
// this interface; the core only sees the verdict.
type TopupProvider interface {
	Name() string
	// Retryable reports whether failed dispatches may be re-attempted
	// through the claim mechanism
	Retryable() bool
	SendTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	EstimateCost(ctx context.Context, productID string, sendAmount decimal.Decimal) (decimal.Decimal, error)
}

// AccountLocker serializes checkout attempts per customer account before the
// database sees them. The conditional UPDATE in the ledger repository stays
// authoritative; the lock only shrinks the window where a loser does wasted
// work.
type AccountLocker interface {
	Acquire(ctx context.Context, orgID, accountID, token string) (bool, error)
	Release(ctx context.Context, orgID, accountID, token string) error
}

// EventPublisher delivers drained outbox messages to the broker
type EventPublisher interface {
	Publish(topic, key string, payload []byte) error
}
