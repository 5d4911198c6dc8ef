package transaction

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/observability"
	"github.com/airtimehq/topup-core/pkg/resilience"
)

// Service owns the transaction state machine: manual status updates
// validated against the transition table, the atomic retry claim, and the
// completed/failed finalizers shared with checkout.
type Service struct {
	db        ports.DBPort
	txns      ports.TransactionRepository
	customers ports.CustomerRepository
	outbox    ports.OutboxRepository
	provider  ports.TopupProvider
	logger    ports.Logger
	timeouts  *resilience.TimeoutConfig
}

// NewService creates a transaction lifecycle service
func NewService(
	db ports.DBPort,
	txns ports.TransactionRepository,
	customers ports.CustomerRepository,
	outbox ports.OutboxRepository,
	provider ports.TopupProvider,
	logger ports.Logger,
	timeouts *resilience.TimeoutConfig,
) *Service {
	return &Service{
		db:        db,
		txns:      txns,
		customers: customers,
		outbox:    outbox,
		provider:  provider,
		logger:    logger,
		timeouts:  timeouts,
	}
}

// Get returns one transaction scoped to the org
func (s *Service) Get(ctx context.Context, orgID, orderID string) (*models.Transaction, error) {
	return s.txns.GetByOrderID(ctx, nil, orgID, orderID)
}

// List returns the org's transactions, newest first
func (s *Service) List(ctx context.Context, orgID string, limit, offset int32) ([]*models.Transaction, error) {
	return s.txns.ListByOrg(ctx, nil, orgID, limit, offset)
}

// UpdateStatus applies a staff-driven status change. The transition table is
// the only authority on legality; transitions into failed or refunded must
// carry a reason. Timeline stamps are first-write-wins so re-entry is
// idempotent.
func (s *Service) UpdateStatus(ctx context.Context, orgID, orderID string, to domain.TransactionStatus, reason, actor string) (*models.Transaction, error) {
	txn, err := s.txns.GetByOrderID(ctx, nil, orgID, orderID)
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateTransition(txn.Status, to); err != nil {
		return nil, err
	}
	if domain.RequiresReason(to) && reason == "" {
		return nil, domain.ErrTxnReasonRequired.WithDetail("to", string(to))
	}

	from := txn.Status
	txn.Status = to
	txn.Timeline.Stamp(to, time.Now())
	if reason != "" {
		txn.SetMeta(models.MetaFailureReason, reason)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.txns.Update(ctx, tx, txn, from); err != nil {
			return err
		}
		if to == domain.StatusCompleted {
			if err := s.upsertCustomer(ctx, tx, txn); err != nil {
				return err
			}
		}
		return s.appendEvent(ctx, tx, txn, eventTypeFor(to), reason)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTopup(orgID, string(txn.PaymentType), string(to))
	s.logger.Info("transaction status updated",
		ports.String("org_id", orgID),
		ports.String("order_id", orderID),
		ports.String("from", string(from)),
		ports.String("to", string(to)),
		ports.String("actor", actor))
	return txn, nil
}

// Retry re-dispatches a failed transaction. The claim is one atomic
// match-and-update; when two operators race, exactly one claim succeeds and
// the loser gets a conflict telling it to re-fetch. Retry failures leave the
// transaction failed for another retry or a manual refund, never an
// automatic one.
func (s *Service) Retry(ctx context.Context, orgID, orderID, actor string) (*models.Transaction, error) {
	txn, err := s.txns.GetByOrderID(ctx, nil, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if txn.Provider != s.provider.Name() || !s.provider.Retryable() {
		return nil, domain.ErrTxnNotRetryable.WithDetail("provider", txn.Provider)
	}

	claimed, err := s.txns.ClaimForRetry(ctx, nil, orgID, orderID, actor)
	if err != nil {
		if domain.IsConflictError(err) {
			observability.RecordRetryClaim(orgID, "conflict")
		}
		return nil, err
	}
	observability.RecordRetryClaim(orgID, "claimed")
	s.logger.Info("retry claimed",
		ports.String("org_id", orgID),
		ports.String("order_id", orderID),
		ports.String("actor", actor),
		ports.Int("retry_count", claimed.RetryCount))

	result, dispatchErr := s.Dispatch(ctx, claimed)
	switch {
	case dispatchErr != nil:
		// Transport-level failure talking to the provider
		if _, err := s.MarkFailed(ctx, claimed, dispatchErr.Error()); err != nil {
			return nil, err
		}
	case result.Status == ports.TransferCompleted:
		return s.MarkCompleted(ctx, claimed, result.ProviderTransactionID)
	case result.Status == ports.TransferProcessing:
		claimed.ProviderTransactionID = result.ProviderTransactionID
		if err := s.persist(ctx, claimed, domain.StatusProcessing); err != nil {
			return nil, err
		}
	default:
		// Provider-reported failure
		if _, err := s.MarkFailed(ctx, claimed, providerFailureReason(result)); err != nil {
			return nil, err
		}
	}
	return claimed, nil
}

// Dispatch sends the transfer to the fulfillment provider under the
// provider timeout and records the dispatch duration
func (s *Service) Dispatch(ctx context.Context, txn *models.Transaction) (*ports.TransferResult, error) {
	callCtx, cancel := s.timeouts.ProviderContext(ctx)
	defer cancel()

	req := ports.TransferRequest{
		ProductID:      txn.ProductID,
		PhoneNumber:    txn.Recipient.PhoneNumber,
		Country:        txn.Operator.Country,
		SendAmount:     txn.SendAmount(),
		IdempotencyRef: txn.IdempotencyRef(),
	}

	start := time.Now()
	result, err := s.provider.SendTransfer(callCtx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		observability.ObserveProviderDispatch(s.provider.Name(), "error", elapsed)
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, domain.ErrProviderTimedOut
		}
		return nil, domain.WrapError(domain.ErrorCodeProviderError, "send transfer", err)
	}

	observability.ObserveProviderDispatch(s.provider.Name(), string(result.Status), elapsed)
	return result, nil
}

// MarkCompleted finalizes a dispatched transaction: CAS to completed, stamp
// the timeline, upsert the customer purchase counters and emit the event.
// A write failure after a successful provider dispatch cannot be reconciled
// automatically; it is logged at error severity with both ids for manual
// reconciliation.
func (s *Service) MarkCompleted(ctx context.Context, txn *models.Transaction, providerTxnID string) (*models.Transaction, error) {
	from := txn.Status
	txn.Status = domain.StatusCompleted
	txn.ProviderTransactionID = providerTxnID
	txn.Timeline.Stamp(domain.StatusCompleted, time.Now())

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.txns.Update(ctx, tx, txn, from); err != nil {
			return err
		}
		if err := s.upsertCustomer(ctx, tx, txn); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, txn, models.EventTransactionCompleted, "")
	})
	if err != nil {
		s.logger.Error("completion write failed after successful provider dispatch; manual reconciliation required",
			ports.String("org_id", txn.OrgID),
			ports.String("order_id", txn.OrderID),
			ports.String("provider_transaction_id", providerTxnID),
			ports.Err(err))
		return nil, err
	}

	observability.RecordTopup(txn.OrgID, string(txn.PaymentType), string(domain.StatusCompleted))
	s.logger.Info("transaction completed",
		ports.String("org_id", txn.OrgID),
		ports.String("order_id", txn.OrderID),
		ports.String("provider_transaction_id", providerTxnID))
	return txn, nil
}

// MarkFailed records a dispatch failure verbatim for support diagnosis
func (s *Service) MarkFailed(ctx context.Context, txn *models.Transaction, reason string) (*models.Transaction, error) {
	from := txn.Status
	txn.Status = domain.StatusFailed
	txn.Timeline.Stamp(domain.StatusFailed, time.Now())
	txn.SetMeta(models.MetaFailureReason, reason)

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.txns.Update(ctx, tx, txn, from); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, txn, models.EventTransactionFailed, reason)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTopup(txn.OrgID, string(txn.PaymentType), string(domain.StatusFailed))
	s.logger.Warn("transaction failed",
		ports.String("org_id", txn.OrgID),
		ports.String("order_id", txn.OrderID),
		ports.String("reason", reason))
	return txn, nil
}

// persist applies the in-memory transaction over the expected status
func (s *Service) persist(ctx context.Context, txn *models.Transaction, expected domain.TransactionStatus) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.txns.Update(ctx, tx, txn, expected)
	})
}

// upsertCustomer creates or updates the customer record after a completed
// top-up, keyed by phone number or email within the org. Required
// observable side effect of every completion; idempotent per order because
// completion itself happens once.
func (s *Service) upsertCustomer(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	now := time.Now()

	var customer *models.Customer
	var err error
	if txn.CustomerID != "" {
		customer, err = s.customers.GetByID(ctx, tx, txn.OrgID, txn.CustomerID)
	} else {
		customer, err = s.customers.FindByIdentifier(ctx, tx, txn.OrgID, txn.Recipient.PhoneNumber, txn.Recipient.Email)
	}
	if err != nil && !domain.IsNotFoundError(err) {
		return err
	}

	if customer == nil {
		customer = &models.Customer{
			OrgID:       txn.OrgID,
			PhoneNumber: txn.Recipient.PhoneNumber,
			Email:       txn.Recipient.Email,
			Name:        txn.Recipient.Name,
		}
		customer.RecordPurchase(txn.Amount, now)
		if err := s.customers.Create(ctx, tx, customer); err != nil {
			return err
		}
		txn.CustomerID = customer.ID
		return nil
	}

	customer.RecordPurchase(txn.Amount, now)
	if err := s.customers.Update(ctx, tx, customer); err != nil {
		return err
	}
	txn.CustomerID = customer.ID
	return nil
}

// appendEvent writes the outbox row in the same transaction as the state
// change it describes
func (s *Service) appendEvent(ctx context.Context, tx ports.DBTX, txn *models.Transaction, eventType, reason string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"orderId":               txn.OrderID,
		"orgId":                 txn.OrgID,
		"status":                txn.Status,
		"amount":                txn.Amount,
		"currency":              txn.Currency,
		"providerTransactionId": txn.ProviderTransactionID,
		"reason":                reason,
	})
	if err != nil {
		return err
	}
	return s.outbox.Append(ctx, tx, &models.OutboxMessage{
		OrgID:      txn.OrgID,
		EventType:  eventType,
		MessageKey: txn.OrderID,
		Payload:    payload,
	})
}

func eventTypeFor(status domain.TransactionStatus) string {
	switch status {
	case domain.StatusCompleted:
		return models.EventTransactionCompleted
	case domain.StatusFailed:
		return models.EventTransactionFailed
	case domain.StatusRefunded:
		return models.EventTransactionRefunded
	default:
		return models.EventTransactionCreated
	}
}

func providerFailureReason(result *ports.TransferResult) string {
	if result.ErrorMessage != "" {
		if result.ErrorCode != "" {
			return result.ErrorCode + ": " + result.ErrorMessage
		}
		return result.ErrorMessage
	}
	return "provider reported failure without detail"
}
