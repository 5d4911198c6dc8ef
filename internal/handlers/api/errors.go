package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airtimehq/topup-core/internal/domain"
)

type errorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps a domain error code onto an HTTP status. Unknown errors
// are masked as 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, errorResponse{
			Code:    string(domain.ErrorCodeInternalError),
			Message: "internal error",
		})
		return
	}

	c.JSON(statusFor(de.Code), errorResponse{
		Code:    string(de.Code),
		Message: de.Message,
		Details: de.Details,
	})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeLedgerInsufficientFunds,
		domain.ErrorCodeSpendingCapExceeded:
		return http.StatusPaymentRequired
	case domain.ErrorCodeLedgerAccountNotFound,
		domain.ErrorCodeTxnNotFound,
		domain.ErrorCodeCustomerNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeTxnInvalidTransition,
		domain.ErrorCodeTxnRetryConflict,
		domain.ErrorCodeTxnDuplicateOrder,
		domain.ErrorCodeRefundNotAllowed:
		return http.StatusConflict
	case domain.ErrorCodeLedgerAccountInactive,
		domain.ErrorCodeTxnNotRetryable,
		domain.ErrorCodeTxnReasonRequired,
		domain.ErrorCodePricingInvalidCost,
		domain.ErrorCodePricingRuleInvalid,
		domain.ErrorCodeValidationFailed,
		domain.ErrorCodeValidationAmountInvalid:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeProviderTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorCodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
