package repositories

import "fmt"

// LedgerErrorCode enumerates repository error causes for payment ledger operations.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorTransactionNotFound indicates the transaction document is missing.
	LedgerErrorTransactionNotFound LedgerErrorCode = "ledger_transaction_not_found"
	// LedgerErrorInvalidStatus indicates the transaction status forbids the operation.
	LedgerErrorInvalidStatus LedgerErrorCode = "ledger_invalid_status"
)

// LedgerError wraps payment-ledger failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLedgerError constructs a typed payment ledger error.
func NewLedgerError(code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
