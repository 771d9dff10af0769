package services

import (
	"context"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Money              = domain.Money
	Listing            = domain.Listing
	ListingStatus      = domain.ListingStatus
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Transaction        = domain.Transaction
	TransactionStatus  = domain.TransactionStatus
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	ShippingDetails    = domain.ShippingDetails
	NotificationType   = domain.NotificationType
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages mutable cart state and enforces the add-to-cart rules.
type CartService interface {
	GetOrCreateCart(ctx context.Context, buyerID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	// ValidateForCheckout re-checks every line against live listings and
	// reports the first failure. A nil error means the whole cart is sellable
	// right now.
	ValidateForCheckout(ctx context.Context, buyerID string) (CartValidation, error)
	// TotalPrice recomputes the payable total from current listing prices,
	// never from the stored line snapshots.
	TotalPrice(ctx context.Context, buyerID string) (CartTotal, error)
	ClearCart(ctx context.Context, buyerID string) error
}

// AddCartItemCommand adds quantity of a listing to the buyer's cart.
type AddCartItemCommand struct {
	BuyerID   string
	ListingID string
	Quantity  int
}

// AddCartItemResult reports the saved cart and whether the requested quantity
// was clamped to the listing's availability.
type AddCartItemResult struct {
	Cart    Cart
	Clamped bool
	// AvailableQuantity is the listing availability observed during the add,
	// returned so the caller can tell the buyer what the clamp was.
	AvailableQuantity int
}

// UpdateCartItemCommand replaces the quantity of an existing cart line.
type UpdateCartItemCommand struct {
	BuyerID   string
	ListingID string
	Quantity  int
}

// RemoveCartItemCommand drops a cart line.
type RemoveCartItemCommand struct {
	BuyerID   string
	ListingID string
}

// CartValidation is the outcome of a checkout pre-flight.
type CartValidation struct {
	Cart Cart
	// Listings holds the live listing for each cart line, keyed by listing ID.
	Listings map[string]Listing
}

// CartTotal carries the repriced cart total with its per-line breakdown.
type CartTotal struct {
	Currency string
	Total    Money
	Lines    []CartTotalLine
}

// CartTotalLine is one repriced cart line.
type CartTotalLine struct {
	ListingID string
	Quantity  int
	UnitPrice Money
	LineTotal Money
}

// StockService guards every listing quantity mutation behind the atomic
// ledger operations.
type StockService interface {
	GetListing(ctx context.Context, listingID string) (Listing, error)
	// Reserve attempts a soft hold. Insufficient availability is a normal
	// outcome reported through the result, not an error.
	Reserve(ctx context.Context, cmd StockReserveCommand) (StockReserveOutcome, error)
	ReleaseReservation(ctx context.Context, cmd StockReleaseCommand) (Listing, error)
	ReleaseSold(ctx context.Context, cmd StockReleaseCommand) (Listing, error)
	Restock(ctx context.Context, cmd RestockCommand) (Listing, error)
}

// StockReserveCommand asks for a soft hold of Quantity units.
type StockReserveCommand struct {
	ListingID string
	Quantity  int
}

// StockReserveOutcome reports whether the hold was taken.
type StockReserveOutcome struct {
	Reserved  bool
	Listing   Listing
	Available int
}

// StockReleaseCommand returns units to availability.
type StockReleaseCommand struct {
	ListingID string
	Quantity  int
	Reason    string
}

// RestockCommand replaces a listing's total quantity on behalf of its seller.
type RestockCommand struct {
	ListingID    string
	ActingUserID string
	Quantity     int
}

// ListingService covers the seller-facing listing surface.
type ListingService interface {
	CreateListing(ctx context.Context, cmd CreateListingCommand) (Listing, error)
	GetListing(ctx context.Context, listingID string) (Listing, error)
	UpdateListing(ctx context.Context, cmd UpdateListingCommand) (Listing, error)
	Restock(ctx context.Context, cmd RestockCommand) (Listing, error)
}

// CreateListingCommand creates a listing owned by the acting seller.
type CreateListingCommand struct {
	SellerID    string
	Title       string
	Description string
	Price       Money
	Currency    string
	Quantity    int
}

// UpdateListingCommand edits mutable listing fields. Quantity changes go
// through Restock, never through here.
type UpdateListingCommand struct {
	ListingID    string
	ActingUserID string
	Title        *string
	Description  *string
	Price        *Money
	Status       *ListingStatus
}

// CheckoutService turns a validated cart (or a single listing) into a payment
// intent backed by pending ledger rows and soft stock holds.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	BuyNow(ctx context.Context, cmd BuyNowCommand) (CheckoutResult, error)
}

// CheckoutCommand starts a cart checkout for the acting buyer.
type CheckoutCommand struct {
	BuyerID  string
	Shipping *ShippingDetails
	// IdempotencyKey scopes the gateway intent creation; retries with the
	// same key return the original intent.
	IdempotencyKey string
}

// BuyNowCommand checks out a single listing without touching the cart.
type BuyNowCommand struct {
	BuyerID        string
	ListingID      string
	Quantity       int
	Shipping       *ShippingDetails
	IdempotencyKey string
}

// CheckoutResult reports the created intent and its pending ledger rows.
type CheckoutResult struct {
	IntentID       string
	ClientSecret   string
	Provider       string
	TransactionIDs []string
	TotalAmount    Money
	Currency       string
}

// ReconciliationService converts a payment outcome into durable order state.
// It is safe to invoke any number of times per intent from webhooks, client
// confirmation calls, and the poller; replays are no-ops.
type ReconciliationService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// ReconcileCommand identifies the intent to reconcile. GatewayStatus may
// carry a webhook-claimed status, but the gateway record remains the ground
// truth and is always re-read.
type ReconcileCommand struct {
	IntentID      string
	GatewayStatus string
	// Source records what triggered the run (webhook, client, poll).
	Source string
}

// ReconcileResult summarises what the run did.
type ReconcileResult struct {
	IntentID      string
	GatewayStatus string
	// Processed counts ledger rows flipped by this run. Zero with
	// AlreadyProcessed set means a replay hit an already-settled intent.
	Processed        int
	AlreadyProcessed bool
	OrderIDs         []string
	OrderNumbers     []string
	CartCleared      bool
	StockAnomalies   []string
	FailedRows       int
}

// OrderService owns the fulfilment status machine and the order read surface.
type OrderService interface {
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	// TransitionStatus applies one step of the fulfilment machine. Illegal
	// transitions are rejected against a single central table.
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// GetOrderCommand reads one order on behalf of a participant.
type GetOrderCommand struct {
	OrderID      string
	ActingUserID string
}

// OrderListFilter narrows the order read surface.
type OrderListFilter struct {
	BuyerID     string
	SellerID    string
	Status      []OrderStatus
	OrderNumber string
	From        *time.Time
	To          *time.Time
	Pagination  Pagination
}

// OrderTransitionCommand moves an order to a target status.
type OrderTransitionCommand struct {
	OrderID      string
	ActingUserID string
	Target       OrderStatus
	Note         string
}

// CancelOrderCommand cancels an order and restocks its items.
type CancelOrderCommand struct {
	OrderID      string
	ActingUserID string
	Reason       string
}

// NotificationDispatcher publishes buyer and seller notifications. Dispatch
// is fire-and-forget: failures are logged by the caller and never block the
// money path.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}

// Notification is one event published to the notification topic.
type Notification struct {
	Type        NotificationType
	RecipientID string
	OrderID     string
	ListingID   string
	IntentID    string
	Title       string
	Body        string
	Data        map[string]string
	OccurredAt  time.Time
}

// PaymentGateway is the slice of the payment manager the checkout and
// reconciliation services depend on.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, pctx payments.PaymentContext, req payments.CreateIntentRequest) (payments.IntentHandle, error)
	RetrieveIntent(ctx context.Context, pctx payments.PaymentContext, req payments.RetrieveRequest) (payments.PaymentDetails, error)
	CancelIntent(ctx context.Context, pctx payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, pctx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// SystemService exposes operational health and build metadata.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
