package repositories

import (
	"context"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Listings() ListingRepository
	Carts() CartRepository
	Transactions() TransactionRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListingRepository owns the stock ledger. Every quantity mutation runs as a
// single atomic transaction; checkout and reconciliation never read-then-write
// listing counters outside these operations.
type ListingRepository interface {
	Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error)
	Update(ctx context.Context, listing domain.Listing) (domain.Listing, error)
	FindByID(ctx context.Context, listingID string) (domain.Listing, error)
	FindByIDs(ctx context.Context, listingIDs []string) (map[string]domain.Listing, error)

	// Reserve takes a soft hold for a checkout attempt. Insufficient stock is
	// reported through Reserved=false, not an error.
	Reserve(ctx context.Context, req StockReserveRequest) (StockReserveResult, error)
	// ReleaseReservation returns a soft hold to availability after a failed or
	// canceled payment.
	ReleaseReservation(ctx context.Context, req StockReleaseRequest) (domain.Listing, error)
	// ReleaseSold reverses a completed sale (order cancellation restock).
	ReleaseSold(ctx context.Context, req StockReleaseRequest) (domain.Listing, error)
	// Restock sets the listing's total quantity and re-derives its status.
	// Idempotent for the same target quantity.
	Restock(ctx context.Context, req StockRestockRequest) (domain.Listing, error)
}

// StockReserveRequest asks for a soft hold of Quantity units.
type StockReserveRequest struct {
	ListingID string
	Quantity  int
	Now       time.Time
}

// StockReserveResult reports whether the hold was taken and the listing after the attempt.
type StockReserveResult struct {
	Reserved bool
	Listing  domain.Listing
}

// StockReleaseRequest returns Quantity units to availability.
type StockReleaseRequest struct {
	ListingID string
	Quantity  int
	Reason    string
	Now       time.Time
}

// StockRestockRequest replaces the listing's total quantity.
type StockRestockRequest struct {
	ListingID     string
	TotalQuantity int
	Now           time.Time
}

// CartRepository owns cart persistence. The cart document is keyed by the
// buyer ID, which enforces the one-live-cart-per-buyer rule.
type CartRepository interface {
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	ReplaceItems(ctx context.Context, buyerID string, items []domain.CartItem) (domain.Cart, error)
}

// TransactionRepository owns the payment ledger. Status flips for an intent
// happen inside one transaction via CompleteByIntent/FailByIntent; nothing
// else mutates transaction rows after creation.
type TransactionRepository interface {
	InsertAll(ctx context.Context, transactions []domain.Transaction) error
	FindByID(ctx context.Context, transactionID string) (domain.Transaction, error)
	ListByIntent(ctx context.Context, intentID string) ([]domain.Transaction, error)
	ListPendingByIntent(ctx context.Context, intentID string) ([]domain.Transaction, error)
	List(ctx context.Context, filter TransactionListFilter) (domain.CursorPage[domain.Transaction], error)

	// CompleteByIntent is the reconciliation atomic scope: inside a single
	// transaction it re-reads the pending ledger rows for the intent, flips
	// them to completed, creates or confirms the supplied candidate orders,
	// links them, and confirms the stock decrement on each affected listing.
	// Rows that raced to a non-pending status are skipped, which makes the
	// operation a no-op for replayed confirmations.
	CompleteByIntent(ctx context.Context, req CompleteByIntentRequest) (CompleteByIntentResult, error)

	// FailByIntent flips the pending rows for an intent to failed or canceled
	// and releases their stock holds, in one transaction.
	FailByIntent(ctx context.Context, req FailByIntentRequest) (FailByIntentResult, error)

	// MarkRefunded records a refund against a completed transaction.
	MarkRefunded(ctx context.Context, transactionID string, now time.Time) (domain.Transaction, error)
}

// TransactionListFilter narrows ledger queries for the read surface.
type TransactionListFilter struct {
	BuyerID    string
	SellerID   string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CompleteByIntentRequest carries the pre-built candidate orders keyed by
// transaction ID. Candidates for rows that raced to completion go unused.
type CompleteByIntentRequest struct {
	IntentID        string
	CandidateOrders map[string]domain.Order
	Now             time.Time
}

// CompleteByIntentResult reports what the atomic scope actually did.
type CompleteByIntentResult struct {
	CompletedTransactionIDs []string
	Orders                  []domain.Order
	// StockAnomalies lists listings whose sold count had to be clamped while
	// confirming the decrement. The payment already succeeded, so these are
	// surfaced for logging rather than failing the reconciliation.
	StockAnomalies []string
	// ExhaustedListings lists listings whose availability reached zero.
	ExhaustedListings []string
	BuyerIDs          []string
}

// FailByIntentRequest flips an intent's pending rows to a terminal failure state.
type FailByIntentRequest struct {
	IntentID string
	Status   domain.TransactionStatus
	Reason   string
	Now      time.Time
}

// FailByIntentResult reports the affected rows and released listings.
type FailByIntentResult struct {
	FailedTransactionIDs []string
	ReleasedListings     []string
}

// OrderRepository persists order headers and provides query helpers for buyers and sellers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order queries by party, status, date range, and
// order-number search.
type OrderListFilter struct {
	BuyerID     string
	SellerID    string
	Status      []string
	OrderNumber string
	DateRange   domain.RangeQuery[time.Time]
	Pagination  domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
