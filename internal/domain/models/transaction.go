package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
)

// PaymentType identifies how a top-up order was funded
type PaymentType string

const (
	PaymentTypeWallet  PaymentType = "wallet"
	PaymentTypeGateway PaymentType = "gateway"
)

// Operator describes the mobile operator a top-up is delivered through
type Operator struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Recipient is the destination of a top-up
type Recipient struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Timeline holds one nullable timestamp per status transition. Each field is
// set at most once; re-entering a state never overwrites the first stamp.
type Timeline struct {
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
}

// Stamp records the timestamp for a status transition, first write wins
func (t *Timeline) Stamp(status domain.TransactionStatus, at time.Time) {
	set := func(field **time.Time) {
		if *field == nil {
			*field = &at
		}
	}
	switch status {
	case domain.StatusPaid:
		set(&t.PaidAt)
	case domain.StatusProcessing:
		set(&t.ProcessingAt)
	case domain.StatusCompleted:
		set(&t.CompletedAt)
	case domain.StatusFailed:
		set(&t.FailedAt)
	case domain.StatusRefunded:
		set(&t.RefundedAt)
	}
}

// Transaction is the financial record of a top-up order. It is never
// deleted, only transitioned.
type Transaction struct {
	ID                    string
	OrderID               string
	OrgID                 string
	CustomerID            string
	Amount                decimal.Decimal
	Currency              string
	ProductID             string
	Operator              Operator
	Recipient             Recipient
	Provider              string
	ProviderTransactionID string
	PaymentGateway        string
	PaymentType           PaymentType
	Status                domain.TransactionStatus
	Timeline              Timeline
	Metadata              map[string]interface{}
	RetryCount            int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsRefunded reports whether the refund pipeline already finalized this
// transaction; used as the double-refund idempotency guard
func (t *Transaction) IsRefunded() bool {
	return t.Status == domain.StatusRefunded && t.Timeline.RefundedAt != nil
}

// SetMeta writes a metadata key, allocating the bag lazily
func (t *Transaction) SetMeta(key string, value interface{}) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]interface{})
	}
	t.Metadata[key] = value
}

// Meta reads a metadata key, nil when absent
func (t *Transaction) Meta(key string) interface{} {
	if t.Metadata == nil {
		return nil
	}
	return t.Metadata[key]
}

// IdempotencyRef returns the per-attempt reference passed to the fulfillment
// provider so it can deduplicate dispatches. The retry counter makes each
// claimed attempt distinct.
func (t *Transaction) IdempotencyRef() string {
	return t.OrderID + ":" + strconv.Itoa(t.RetryCount)
}

// SendAmount returns the customer-chosen amount persisted for variable-value
// products, nil for fixed-value orders. Stored in metadata so a retry claimed
// from the database can reconstruct the original dispatch.
func (t *Transaction) SendAmount() *decimal.Decimal {
	raw, ok := t.Meta(MetaSendAmount).(string)
	if !ok || raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

// Metadata keys persisted on a transaction for auditability
const (
	MetaCostPrice       = "costPrice"
	MetaCustomerPrice   = "customerPrice"
	MetaDiscountAmount  = "discountAmount"
	MetaFinalPrice      = "finalPrice"
	MetaMarkup          = "markup"
	MetaPricingRuleName = "pricingRuleName"
	MetaSendAmount      = "sendAmount"
	MetaFailureReason   = "failureReason"
	MetaRetriedBy       = "retriedBy"
	MetaRetriedAt       = "retriedAt"
	MetaRefundSource    = "refundSource"
	MetaRefundedBy      = "refundedBy"
	MetaRefundError     = "refundError"
)
