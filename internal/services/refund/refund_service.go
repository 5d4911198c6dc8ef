package refund

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/internal/services/ledger"
	"github.com/airtimehq/topup-core/pkg/observability"
)

// Request asks to reverse a transaction's financial effect. Amount defaults
// to the transaction's amount; Source and RefundedBy are audit metadata.
type Request struct {
	OrgID      string
	OrderID    string
	Reason     string
	Amount     *decimal.Decimal
	Source     string
	RefundedBy string
}

// Result reports the pipeline outcome. BalanceRefunded is false when the
// transaction was already refunded or no customer could be resolved.
type Result struct {
	Success         bool
	BalanceRefunded bool
	CustomerID      string
}

// Service is the idempotent refund pipeline. Calling it twice on the same
// transaction credits the customer exactly once.
type Service struct {
	db        ports.DBPort
	txns      ports.TransactionRepository
	customers ports.CustomerRepository
	outbox    ports.OutboxRepository
	ledger    *ledger.Service
	logger    ports.Logger
}

// NewService creates a refund service
func NewService(
	db ports.DBPort,
	txns ports.TransactionRepository,
	customers ports.CustomerRepository,
	outbox ports.OutboxRepository,
	ledgerSvc *ledger.Service,
	logger ports.Logger,
) *Service {
	return &Service{
		db:        db,
		txns:      txns,
		customers: customers,
		outbox:    outbox,
		ledger:    ledgerSvc,
		logger:    logger,
	}
}

// Refund reverses a transaction. On an unexpected error mid-pipeline the
// transaction is marked failed with the error recorded in metadata rather
// than left ambiguous, and the caller must surface the failure to a human
// operator.
func (s *Service) Refund(ctx context.Context, req Request) (*Result, error) {
	if req.Reason == "" {
		return nil, domain.ErrTxnReasonRequired.WithDetail("operation", "refund")
	}

	txn, err := s.txns.GetByOrderID(ctx, nil, req.OrgID, req.OrderID)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: refunding twice must never double-credit. A second
	// call only refreshes the audit metadata.
	if txn.IsRefunded() {
		s.logger.Info("refund already applied, skipping credit",
			ports.String("org_id", req.OrgID),
			ports.String("order_id", req.OrderID))
		observability.RecordRefund(req.OrgID, "already_refunded")
		txn.SetMeta(models.MetaFailureReason, req.Reason)
		s.applyAuditMeta(txn, req)
		if err := s.persistMetadata(ctx, txn); err != nil {
			return nil, err
		}
		return &Result{Success: true, BalanceRefunded: false, CustomerID: txn.CustomerID}, nil
	}

	if !domain.IsRefundable(txn.Status) {
		return nil, domain.ErrRefundNotAllowed.
			WithDetail("status", string(txn.Status)).
			WithDetail("order_id", req.OrderID)
	}

	amount := txn.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := s.execute(ctx, txn, req, amount)
	if err != nil {
		// Leave the transaction failed, never ambiguous
		s.recordPipelineError(ctx, req.OrgID, req.OrderID, err)
		observability.RecordRefund(req.OrgID, "error")
		return &Result{Success: false, BalanceRefunded: false, CustomerID: txn.CustomerID}, err
	}
	return result, nil
}

// execute runs customer resolution, ledger credit and transaction
// finalization as one unit of work
func (s *Service) execute(ctx context.Context, txn *models.Transaction, req Request, amount decimal.Decimal) (*Result, error) {
	balanceRefunded := false
	var customerID string

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		customer, err := s.resolveCustomer(ctx, tx, txn)
		if err != nil {
			return err
		}

		if customer != nil {
			customerID = customer.ID
			if _, err := s.ledger.CreditRefund(ctx, tx, txn.OrgID, customer.ID, txn.Currency, amount, txn.OrderID, req.Reason); err != nil {
				return err
			}
			balanceRefunded = true
		} else {
			s.logger.Warn("refund without balance credit: no customer resolved, manual follow-up required",
				ports.String("org_id", txn.OrgID),
				ports.String("order_id", txn.OrderID),
				ports.String("phone", txn.Recipient.PhoneNumber))
		}

		from := txn.Status
		now := time.Now()
		txn.Status = domain.StatusRefunded
		txn.Timeline.Stamp(domain.StatusFailed, now)
		txn.Timeline.Stamp(domain.StatusRefunded, now)
		txn.SetMeta(models.MetaFailureReason, req.Reason)
		s.applyAuditMeta(txn, req)
		if customer != nil {
			txn.CustomerID = customer.ID
		}

		if err := s.txns.Update(ctx, tx, txn, from); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"orderId":         txn.OrderID,
			"orgId":           txn.OrgID,
			"amount":          amount,
			"currency":        txn.Currency,
			"reason":          req.Reason,
			"balanceRefunded": balanceRefunded,
		})
		if err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, &models.OutboxMessage{
			OrgID:      txn.OrgID,
			EventType:  models.EventTransactionRefunded,
			MessageKey: txn.OrderID,
			Payload:    payload,
		})
	})
	if err != nil {
		return nil, err
	}

	outcome := "credited"
	if !balanceRefunded {
		outcome = "no_customer"
	}
	observability.RecordRefund(txn.OrgID, outcome)
	observability.RecordTopup(txn.OrgID, string(txn.PaymentType), string(domain.StatusRefunded))
	s.logger.Info("refund completed",
		ports.String("org_id", txn.OrgID),
		ports.String("order_id", txn.OrderID),
		ports.String("amount", amount.String()),
		ports.Any("balance_refunded", balanceRefunded))

	return &Result{Success: true, BalanceRefunded: balanceRefunded, CustomerID: customerID}, nil
}

// resolveCustomer finds who to credit: the stored customer id, then a
// phone/email lookup within the org, then - for gateway-funded orders only -
// a newly created record
func (s *Service) resolveCustomer(ctx context.Context, tx ports.DBTX, txn *models.Transaction) (*models.Customer, error) {
	if txn.CustomerID != "" {
		customer, err := s.customers.GetByID(ctx, tx, txn.OrgID, txn.CustomerID)
		if err == nil {
			return customer, nil
		}
		if !domain.IsNotFoundError(err) {
			return nil, err
		}
	}

	customer, err := s.customers.FindByIdentifier(ctx, tx, txn.OrgID, txn.Recipient.PhoneNumber, txn.Recipient.Email)
	if err == nil && customer != nil {
		return customer, nil
	}
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, err
	}

	if txn.PaymentType == models.PaymentTypeGateway && txn.Recipient.PhoneNumber != "" {
		customer = &models.Customer{
			OrgID:       txn.OrgID,
			PhoneNumber: txn.Recipient.PhoneNumber,
			Email:       txn.Recipient.Email,
			Name:        txn.Recipient.Name,
		}
		if err := s.customers.Create(ctx, tx, customer); err != nil {
			return nil, err
		}
		return customer, nil
	}

	return nil, nil
}

// recordPipelineError marks the transaction failed with the pipeline error
// in metadata so the failure is forensically recoverable. The transaction is
// re-read first: the failed pipeline rolled back its writes, so any in-memory
// copy from that attempt no longer reflects what the database holds.
func (s *Service) recordPipelineError(ctx context.Context, orgID, orderID string, pipelineErr error) {
	txn, err := s.txns.GetByOrderID(ctx, nil, orgID, orderID)
	if err != nil {
		s.logger.Error("failed to reload transaction for refund error record",
			ports.String("org_id", orgID),
			ports.String("order_id", orderID),
			ports.Err(err))
		return
	}

	from := txn.Status
	txn.Status = domain.StatusFailed
	txn.Timeline.Stamp(domain.StatusFailed, time.Now())
	txn.SetMeta(models.MetaRefundError, pipelineErr.Error())

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.txns.Update(ctx, tx, txn, from)
	})
	if err != nil {
		s.logger.Error("failed to record refund pipeline error",
			ports.String("org_id", orgID),
			ports.String("order_id", orderID),
			ports.Err(err))
	}
}

// persistMetadata rewrites only the metadata of an already-refunded
// transaction
func (s *Service) persistMetadata(ctx context.Context, txn *models.Transaction) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.txns.Update(ctx, tx, txn, txn.Status)
	})
}

func (s *Service) applyAuditMeta(txn *models.Transaction, req Request) {
	if req.Source != "" {
		txn.SetMeta(models.MetaRefundSource, req.Source)
	}
	if req.RefundedBy != "" {
		txn.SetMeta(models.MetaRefundedBy, req.RefundedBy)
	}
}
