package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/internal/services/ledger"
	"github.com/airtimehq/topup-core/internal/services/pricing"
	"github.com/airtimehq/topup-core/internal/services/refund"
	"github.com/airtimehq/topup-core/internal/services/transaction"
	"github.com/airtimehq/topup-core/pkg/observability"
)

// Request is a priced top-up order entering the system
type Request struct {
	OrgID       string
	CustomerID  string
	MemberID    string // staff member placing a preview/team order, if any
	Product     models.Product
	Operator    models.Operator
	Recipient   models.Recipient
	Currency    string
	PaymentType models.PaymentType
	Gateway     string
	// SendAmount is the customer-chosen amount for variable-value products
	SendAmount *decimal.Decimal
	OrderID    string // generated when absent
}

// Service drives a top-up from priced request to resolved transaction:
// pricing, wallet funding, provider dispatch, and the compensating refund
// when dispatch fails after funds were already deducted.
type Service struct {
	db           ports.DBPort
	txns         ports.TransactionRepository
	pricing      *pricing.Engine
	ledger       *ledger.Service
	lifecycle    *transaction.Service
	refunds      *refund.Service
	provider     ports.TopupProvider
	locker       ports.AccountLocker
	logger       ports.Logger
	reserveFirst bool
}

// NewService creates a checkout service. With reserveFirst the wallet is
// reserved before dispatch and finalized after; otherwise funds are
// deducted optimistically and the refund pipeline compensates on failure.
func NewService(
	db ports.DBPort,
	txns ports.TransactionRepository,
	pricingEngine *pricing.Engine,
	ledgerSvc *ledger.Service,
	lifecycle *transaction.Service,
	refunds *refund.Service,
	provider ports.TopupProvider,
	locker ports.AccountLocker,
	logger ports.Logger,
	reserveFirst bool,
) *Service {
	return &Service{
		db:           db,
		txns:         txns,
		pricing:      pricingEngine,
		ledger:       ledgerSvc,
		lifecycle:    lifecycle,
		refunds:      refunds,
		provider:     provider,
		locker:       locker,
		logger:       logger,
		reserveFirst: reserveFirst,
	}
}

// Checkout prices the request, creates and funds the transaction, and
// dispatches it to the fulfillment provider. Pricing failures abort before
// any transaction row is written. Once funds are deducted and the dispatch
// is in flight there is no cancel: the order resolves to completed or to
// failed plus refund.
func (s *Service) Checkout(ctx context.Context, req Request) (*models.Transaction, error) {
	cost, err := s.resolveCost(ctx, req)
	if err != nil {
		return nil, err
	}

	quote, err := s.pricing.Quote(ctx, req.OrgID, req.Operator.Country, cost)
	if err != nil {
		return nil, err
	}
	if !quote.FinalPrice.IsPositive() {
		return nil, domain.ErrPricingInvalidCost.WithDetail("final_price", quote.FinalPrice.String())
	}

	txn := s.buildTransaction(req, quote)

	var account *models.LedgerAccount
	if req.PaymentType == models.PaymentTypeWallet {
		account, err = s.fundFromWallet(ctx, req, txn, quote.FinalPrice)
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.createPending(ctx, txn); err != nil {
			return nil, err
		}
	}

	return s.dispatch(ctx, txn, account, quote.FinalPrice)
}

// resolveCost determines the wholesale cost. Fixed products use the catalog
// cost; range products ask the provider for an estimate and fall back to
// the min send/receive ratio when the estimate is unavailable. The fallback
// is a known-imprecise approximation and is logged as such, never silently
// trusted.
func (s *Service) resolveCost(ctx context.Context, req Request) (decimal.Decimal, error) {
	if req.Product.ValueType != models.ProductValueRange {
		return req.Product.WholesaleCost, nil
	}
	if req.SendAmount == nil {
		return decimal.Zero, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"send amount is required for variable-value products")
	}

	cost, err := s.provider.EstimateCost(ctx, req.Product.ID, *req.SendAmount)
	if err == nil && cost.IsPositive() {
		return cost, nil
	}

	fallback, fbErr := pricing.FallbackCost(req.Product, *req.SendAmount)
	if fbErr != nil {
		return decimal.Zero, fbErr
	}
	s.logger.Warn("provider cost estimate unavailable, using approximate min send/receive exchange rate",
		ports.String("org_id", req.OrgID),
		ports.String("product_id", req.Product.ID),
		ports.String("approximate_cost", fallback.String()),
		ports.Err(err))
	return fallback, nil
}

func (s *Service) buildTransaction(req Request, quote *models.Quote) *models.Transaction {
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	txn := &models.Transaction{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		OrgID:          req.OrgID,
		CustomerID:     req.CustomerID,
		Amount:         quote.FinalPrice,
		Currency:       req.Currency,
		ProductID:      req.Product.ID,
		Operator:       req.Operator,
		Recipient:      req.Recipient,
		Provider:       s.provider.Name(),
		PaymentGateway: req.Gateway,
		PaymentType:    req.PaymentType,
		Status:         domain.StatusPending,
	}
	txn.SetMeta(models.MetaCostPrice, quote.CostPrice.String())
	txn.SetMeta(models.MetaCustomerPrice, quote.CustomerPrice.String())
	txn.SetMeta(models.MetaDiscountAmount, quote.DiscountAmount.String())
	txn.SetMeta(models.MetaFinalPrice, quote.FinalPrice.String())
	txn.SetMeta(models.MetaMarkup, quote.Markup.String())
	txn.SetMeta(models.MetaPricingRuleName, quote.RuleName)
	if req.SendAmount != nil {
		txn.SetMeta(models.MetaSendAmount, req.SendAmount.String())
	}
	return txn
}

// fundFromWallet creates the pending transaction and funds it from the
// customer wallet in one database transaction: an insufficient balance
// rolls everything back, so no transaction row outlives a failed funding.
// The per-account lock narrows the race window; the conditional update in
// the ledger repository is what actually guarantees correctness.
func (s *Service) fundFromWallet(ctx context.Context, req Request, txn *models.Transaction, price decimal.Decimal) (*models.LedgerAccount, error) {
	token := txn.OrderID
	locked, err := s.locker.Acquire(ctx, req.OrgID, req.CustomerID, token)
	if err != nil {
		s.logger.Warn("account lock unavailable, relying on conditional update",
			ports.String("org_id", req.OrgID), ports.Err(err))
	} else if locked {
		defer func() {
			if err := s.locker.Release(ctx, req.OrgID, req.CustomerID, token); err != nil {
				s.logger.Warn("account lock release failed", ports.Err(err))
			}
		}()
	}

	var account *models.LedgerAccount
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		// Locked read inside the funding transaction so the balances any
		// history entry records are the ones this deduction applies to
		account, err = s.ledger.GetAccountLocked(ctx, tx, req.OrgID, req.CustomerID)
		if err != nil {
			return err
		}
		if !account.IsActive {
			return domain.ErrAccountInactive
		}

		if req.MemberID != "" {
			if err := s.ledger.CheckStaffSpend(ctx, tx, req.OrgID, req.MemberID, price); err != nil {
				return err
			}
		}

		if err := s.txns.Create(ctx, tx, txn); err != nil {
			return err
		}

		if s.reserveFirst {
			if err := s.ledger.Reserve(ctx, tx, req.OrgID, account.ID, price); err != nil {
				return err
			}
		} else {
			if err := s.ledger.DeductForPurchase(ctx, tx, req.OrgID, account, price, false, txn.OrderID); err != nil {
				return err
			}
		}

		txn.Status = domain.StatusPaid
		txn.Timeline.Stamp(domain.StatusPaid, time.Now())
		return s.txns.Update(ctx, tx, txn, domain.StatusPending)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTopup(req.OrgID, string(req.PaymentType), string(domain.StatusPaid))
	return account, nil
}

func (s *Service) createPending(ctx context.Context, txn *models.Transaction) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.txns.Create(ctx, tx, txn)
	})
}

// dispatch sends the funded order to the provider and resolves the outcome.
// Provider failure after an optimistic deduction triggers the refund
// pipeline; in reserve-first mode the reservation is simply released.
func (s *Service) dispatch(ctx context.Context, txn *models.Transaction, account *models.LedgerAccount, price decimal.Decimal) (*models.Transaction, error) {
	from := txn.Status
	txn.Status = domain.StatusProcessing
	txn.Timeline.Stamp(domain.StatusProcessing, time.Now())
	if err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.txns.Update(ctx, tx, txn, from)
	}); err != nil {
		return nil, err
	}

	result, dispatchErr := s.lifecycle.Dispatch(ctx, txn)
	if dispatchErr != nil {
		return s.resolveFailure(ctx, txn, account, price, dispatchErr.Error())
	}

	switch result.Status {
	case ports.TransferCompleted:
		if account != nil && s.reserveFirst {
			if err := s.finalizeReservation(ctx, txn, account, price); err != nil {
				return nil, err
			}
		}
		return s.lifecycle.MarkCompleted(ctx, txn, result.ProviderTransactionID)
	case ports.TransferProcessing:
		txn.ProviderTransactionID = result.ProviderTransactionID
		if err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return s.txns.Update(ctx, tx, txn, domain.StatusProcessing)
		}); err != nil {
			return nil, err
		}
		return txn, nil
	default:
		reason := result.ErrorMessage
		if reason == "" {
			reason = "provider reported failure"
		}
		if result.ErrorCode != "" {
			reason = result.ErrorCode + ": " + reason
		}
		return s.resolveFailure(ctx, txn, account, price, reason)
	}
}

// resolveFailure marks the transaction failed and compensates the wallet.
// The failed marking and the compensation are two physical operations that
// form one logical unit; tests exercise them as a pair.
func (s *Service) resolveFailure(ctx context.Context, txn *models.Transaction, account *models.LedgerAccount, price decimal.Decimal, reason string) (*models.Transaction, error) {
	failed, err := s.lifecycle.MarkFailed(ctx, txn, reason)
	if err != nil {
		return nil, err
	}

	if account == nil {
		// Gateway-funded: nothing was taken from a wallet
		return failed, nil
	}

	if s.reserveFirst {
		err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return s.ledger.ReleaseReservation(ctx, tx, txn.OrgID, account.ID, price)
		})
		if err != nil {
			s.logger.Error("reservation release failed, manual reconciliation required",
				ports.String("org_id", txn.OrgID),
				ports.String("order_id", txn.OrderID),
				ports.Err(err))
		}
		return failed, nil
	}

	refundResult, err := s.refunds.Refund(ctx, refund.Request{
		OrgID:   txn.OrgID,
		OrderID: txn.OrderID,
		Reason:  reason,
		Source:  "auto",
	})
	if err != nil {
		s.logger.Error("automatic refund failed after provider failure, manual reconciliation required",
			ports.String("org_id", txn.OrgID),
			ports.String("order_id", txn.OrderID),
			ports.Err(err))
		return failed, nil
	}
	s.logger.Info("automatic refund applied",
		ports.String("org_id", txn.OrgID),
		ports.String("order_id", txn.OrderID),
		ports.Any("balance_refunded", refundResult.BalanceRefunded))
	return s.lifecycle.Get(ctx, txn.OrgID, txn.OrderID)
}

// finalizeReservation converts the earmark into a real spend after a
// successful dispatch; always succeeds because the funds were reserved
func (s *Service) finalizeReservation(ctx context.Context, txn *models.Transaction, account *models.LedgerAccount, price decimal.Decimal) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.ledger.DeductForPurchase(ctx, tx, txn.OrgID, account, price, true, txn.OrderID)
	})
}
