package domain

import "errors"

// Error is a failure kind with a stable machine-readable code. Call sites wrap
// the sentinels below with fmt.Errorf("%w: ...") to add detail; errors.Is and
// errors.As keep working on the wrapped value.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidQuoteInput      = &Error{Code: "INVALID_QUOTE_INPUT", Message: "invalid quote input"}
	ErrRateUnavailable        = &Error{Code: "RATE_UNAVAILABLE", Message: "exchange rate not available for currency pair"}
	ErrInvalidReceipt         = &Error{Code: "INVALID_RECEIPT", Message: "receipt file rejected"}
	ErrInvalidTransition      = &Error{Code: "INVALID_TRANSITION", Message: "transition not allowed from current status"}
	ErrMissingRejectionReason = &Error{Code: "MISSING_REJECTION_REASON", Message: "rejection reason is required"}
	ErrConcurrentModification = &Error{Code: "CONCURRENT_MODIFICATION", Message: "transaction was modified concurrently"}
	ErrTransactionNotFound    = &Error{Code: "TRANSACTION_NOT_FOUND", Message: "transaction not found"}
	ErrCurrencyNotFound       = &Error{Code: "CURRENCY_NOT_FOUND", Message: "currency not found"}
	ErrForbidden              = &Error{Code: "FORBIDDEN", Message: "actor is not allowed to perform this action"}
	ErrValidation             = &Error{Code: "VALIDATION_FAILED", Message: "request validation failed"}
)

// CodeOf returns the machine-readable code carried by err, or "" when err is
// not a domain failure.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
