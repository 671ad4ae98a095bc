package core

import (
	"errors"
	"fmt"
)

// DomainError is a rejection raised by the ledger. Code is stable and machine-readable;
// adapters map it to transport status codes.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Sentinel errors. Call sites wrap them with the specific reason, so callers match
// with errors.Is and read the reason from Error().
var (
	ErrInvalidAmount          = NewDomainError("INVALID_AMOUNT", "invalid amount")
	ErrOverpayment            = NewDomainError("OVERPAYMENT", "payment exceeds outstanding balance")
	ErrInsufficientFunds      = NewDomainError("INSUFFICIENT_FUNDS", "insufficient funds")
	ErrInvalidRecord          = NewDomainError("INVALID_RECORD", "invalid record")
	ErrConcurrentModification = NewDomainError("CONCURRENT_MODIFICATION", "concurrent modification")
	ErrDuplicateTransaction   = NewDomainError("DUPLICATE_TRANSACTION", "duplicate transaction")
	ErrNotFound               = NewDomainError("NOT_FOUND", "not found")
	ErrInvalidTransfer        = NewDomainError("INVALID_TRANSFER", "invalid transfer")
	ErrUnbalancedEntry        = NewDomainError("UNBALANCED_ENTRY", "entry breakdown does not sum to its amount")
)

// ErrorCode returns the DomainError code carried by err, or INTERNAL_ERROR.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

// reject wraps a sentinel with a formatted reason.
func reject(sentinel *DomainError, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
