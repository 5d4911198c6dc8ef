package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Ledger errors (LEDGER_*)
	ErrorCodeLedgerInsufficientFunds ErrorCode = "LEDGER_INSUFFICIENT_FUNDS"
	ErrorCodeLedgerAccountNotFound   ErrorCode = "LEDGER_ACCOUNT_NOT_FOUND"
	ErrorCodeLedgerAccountInactive   ErrorCode = "LEDGER_ACCOUNT_INACTIVE"
	ErrorCodeSpendingCapExceeded     ErrorCode = "LEDGER_SPENDING_CAP_EXCEEDED"

	// Transaction errors (TXN_*)
	ErrorCodeTxnNotFound          ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnInvalidTransition ErrorCode = "TXN_INVALID_TRANSITION"
	ErrorCodeTxnReasonRequired    ErrorCode = "TXN_REASON_REQUIRED"
	ErrorCodeTxnRetryConflict     ErrorCode = "TXN_RETRY_CONFLICT"
	ErrorCodeTxnNotRetryable      ErrorCode = "TXN_NOT_RETRYABLE"
	ErrorCodeTxnDuplicateOrder    ErrorCode = "TXN_DUPLICATE_ORDER"

	// Pricing errors (PRICING_*)
	ErrorCodePricingInvalidCost ErrorCode = "PRICING_INVALID_COST"
	ErrorCodePricingRuleInvalid ErrorCode = "PRICING_RULE_INVALID"

	// Refund errors (REFUND_*)
	ErrorCodeRefundNotAllowed ErrorCode = "REFUND_NOT_ALLOWED"

	// Provider errors (PROVIDER_*)
	ErrorCodeProviderError   ErrorCode = "PROVIDER_ERROR"
	ErrorCodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"

	// Customer errors (CUSTOMER_*)
	ErrorCodeCustomerNotFound ErrorCode = "CUSTOMER_NOT_FOUND"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of the error with the detail field added. The
// receiver is never mutated, so the shared error instances below stay clean.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{
		Err:     e.Err,
		Details: details,
		Code:    e.Code,
		Message: e.Message,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsInsufficientFunds reports whether an error is the user-facing
// "insufficient balance" condition
func IsInsufficientFunds(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeLedgerInsufficientFunds || code == ErrorCodeSpendingCapExceeded
}

// IsConflictError reports whether an error means the caller lost a race and
// should re-fetch current state
func IsConflictError(err error) bool {
	return GetErrorCode(err) == ErrorCodeTxnRetryConflict
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnNotFound ||
		code == ErrorCodeLedgerAccountNotFound ||
		code == ErrorCodeCustomerNotFound
}

// IsProviderError checks if an error came from the fulfillment provider
func IsProviderError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeProviderError || code == ErrorCodeProviderTimeout
}

// Structured error instances
var (
	ErrInsufficientFunds  = NewDomainError(ErrorCodeLedgerInsufficientFunds, "insufficient available balance")
	ErrAccountNotFound    = NewDomainError(ErrorCodeLedgerAccountNotFound, "ledger account not found")
	ErrAccountInactive    = NewDomainError(ErrorCodeLedgerAccountInactive, "ledger account is deactivated")
	ErrSpendingCapReached = NewDomainError(ErrorCodeSpendingCapExceeded, "staff spending cap exceeded")

	ErrTxnNotFound       = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrTxnReasonRequired = NewDomainError(ErrorCodeTxnReasonRequired, "a non-empty reason is required for this transition")
	ErrTxnRetryConflict  = NewDomainError(ErrorCodeTxnRetryConflict, "transaction already claimed by a concurrent retry or no longer failed")
	ErrTxnNotRetryable   = NewDomainError(ErrorCodeTxnNotRetryable, "transaction provider does not support retries")
	ErrDuplicateOrder    = NewDomainError(ErrorCodeTxnDuplicateOrder, "order id already exists")

	ErrPricingInvalidCost = NewDomainError(ErrorCodePricingInvalidCost, "computed cost is zero or negative")

	ErrRefundNotAllowed = NewDomainError(ErrorCodeRefundNotAllowed, "transaction status does not permit a refund")

	ErrProviderTimedOut = NewDomainError(ErrorCodeProviderTimeout, "fulfillment provider timed out")

	ErrCustomerNotFound = NewDomainError(ErrorCodeCustomerNotFound, "customer not found")

	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)

// NewInvalidTransitionError builds the transition rejection naming both the
// current and the requested status
func NewInvalidTransitionError(from, to TransactionStatus) *DomainError {
	return NewDomainError(ErrorCodeTxnInvalidTransition,
		fmt.Sprintf("transition from %q to %q is not allowed", from, to)).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}
