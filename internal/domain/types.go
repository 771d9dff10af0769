package domain

import (
	"strings"
	"time"
)

// Money values are fixed-point integers holding hundredths of the major
// currency unit, for every currency including zero-decimal ones. XOF 1 000
// is stored as 100 000. Conversion to gateway units happens at the payments
// boundary only.
type Money = int64

// ListingStatus enumerates the lifecycle of a seller listing.
type ListingStatus string

const (
	ListingStatusActive     ListingStatus = "active"
	ListingStatusOutOfStock ListingStatus = "out_of_stock"
	ListingStatusSold       ListingStatus = "sold"
	ListingStatusExpired    ListingStatus = "expired"
)

// Listing is the unit of inventory truth. Quantity fields are mutated only
// through the stock ledger operations, never by direct assignment from
// checkout code. QuantityReserved counts soft holds taken at checkout and
// resolved by reconciliation (confirmed into QuantitySold) or released on
// payment failure.
type Listing struct {
	ID               string
	SellerID         string
	Title            string
	Description      string
	Price            Money
	Currency         string
	Quantity         int
	QuantitySold     int
	QuantityReserved int
	Status           ListingStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableQuantity returns the sellable remainder after sold units and
// outstanding soft holds.
func (l Listing) AvailableQuantity() int {
	available := l.Quantity - l.QuantitySold - l.QuantityReserved
	if available < 0 {
		return 0
	}
	return available
}

// Purchasable reports whether the listing can currently be added to a cart.
func (l Listing) Purchasable() bool {
	return l.Status == ListingStatusActive && l.AvailableQuantity() > 0
}

// CartItem is a single cart line referencing a listing.
type CartItem struct {
	ID        string
	ListingID string
	SellerID  string
	Quantity  int
	// UnitPrice is a display snapshot taken at add time. Checkout always
	// reprices from the current listing.
	UnitPrice Money
	Currency  string
	Title     string
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// Cart holds a buyer's pending line items. At most one live cart exists per
// buyer; the cart document is keyed by the buyer ID.
type Cart struct {
	ID        string
	BuyerID   string
	Currency  string
	Items     []CartItem
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart has no purchasable lines.
func (c Cart) IsEmpty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// TransactionStatus enumerates the payment ledger lifecycle.
type TransactionStatus string

const (
	TransactionStatusPending     TransactionStatus = "pending"
	TransactionStatusCompleted   TransactionStatus = "completed"
	TransactionStatusFailed      TransactionStatus = "failed"
	TransactionStatusRefunded    TransactionStatus = "refunded"
	TransactionStatusCanceled    TransactionStatus = "canceled"
	TransactionStatusTransferred TransactionStatus = "transferred"
)

// Transaction is one payment ledger row: one cart line of one checkout
// attempt. Several transactions share a payment intent (one per line).
// TotalAmount, Commission and NetAmount are computed exactly once at
// creation and never recomputed afterwards.
type Transaction struct {
	ID             string
	IntentID       string
	ListingID      string
	BuyerID        string
	SellerID       string
	Quantity       int
	UnitAmount     Money
	TotalAmount    Money
	CommissionRate int64 // basis points
	Commission     Money
	NetAmount      Money
	Currency       string
	Status         TransactionStatus
	// Shipping is the address snapshot taken at checkout, copied onto the
	// order during reconciliation.
	Shipping      *ShippingDetails
	Title         string
	OrderID       string // set by reconciliation only
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderStatus enumerates the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusConfirmed   OrderStatus = "confirmed"
	OrderStatusReadyToShip OrderStatus = "ready_to_ship"
	OrderStatusShipped     OrderStatus = "shipped"
	OrderStatusDelivered   OrderStatus = "delivered"
	OrderStatusCancelled   OrderStatus = "cancelled"
	OrderStatusFailed      OrderStatus = "failed"
	OrderStatusReturned    OrderStatus = "returned"
)

// TerminalOrderStatuses lists the states that accept no further transition.
var TerminalOrderStatuses = []OrderStatus{
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusFailed,
	OrderStatusReturned,
}

// IsTerminal reports whether the status accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	for _, terminal := range TerminalOrderStatuses {
		if s == terminal {
			return true
		}
	}
	return false
}

// OrderItem is a purchased line with its price frozen at purchase time.
type OrderItem struct {
	ID        string
	ListingID string
	SellerID  string
	Title     string
	Quantity  int
	UnitPrice Money
}

// ShippingDetails is the address snapshot frozen onto the order.
type ShippingDetails struct {
	RecipientName string
	Phone         string
	Line1         string
	Line2         string
	City          string
	Country       string
	Note          string
}

// Order is the durable record of a fulfilled purchase. Its status machine is
// independent of the Transaction lifecycle; the two are linked one-way by
// Transaction.OrderID, maintained only by the reconciliation write path.
type Order struct {
	ID          string
	OrderNumber string
	BuyerID     string
	SellerID    string
	Items       []OrderItem
	Currency    string
	TotalPrice  Money
	Status      OrderStatus
	Shipping    *ShippingDetails
	// Repair marks a degraded order materialized so a succeeded payment is
	// never left without an order record. Shipping details are missing.
	Repair    bool
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecalculateTotal derives TotalPrice from the items.
func (o *Order) RecalculateTotal() {
	var total Money
	for _, item := range o.Items {
		if item.Quantity > 0 && item.UnitPrice > 0 {
			total += item.UnitPrice * int64(item.Quantity)
		}
	}
	o.TotalPrice = total
}

// NotificationType enumerates the fire-and-forget event kinds.
type NotificationType string

const (
	NotificationOrderCreated       NotificationType = "order_created"
	NotificationOrderStatusChanged NotificationType = "order_status_changed"
	NotificationStockExhausted     NotificationType = "stock_exhausted"
	NotificationPaymentFailed      NotificationType = "payment_failed"
)

// CursorPage is a generic paginated result with an opaque next-page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
