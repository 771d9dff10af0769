package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorListingNotFound indicates the listing document is missing.
	StockErrorListingNotFound StockErrorCode = "stock_listing_not_found"
	// StockErrorInvalidQuantity indicates a non-positive or out-of-range quantity.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
	// StockErrorListingInactive indicates the listing status forbids the operation.
	StockErrorListingInactive StockErrorCode = "stock_listing_inactive"
)

// StockError wraps stock-ledger failures with machine readable codes.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock ledger error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
