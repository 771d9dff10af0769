package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/payments"
	"github.com/sahel-market/api/internal/repositories"
)

const (
	eventCheckoutStarted       = "checkout.started"
	eventCheckoutIntentCreated = "checkout.intent_created"
	eventCheckoutLedgerWritten = "checkout.ledger_written"
	eventCheckoutRolledBack    = "checkout.rolled_back"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutEmptyCart indicates the buyer's cart has nothing to pay for.
	ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")
	// ErrCheckoutInsufficientStock indicates a line could not be reserved.
	ErrCheckoutInsufficientStock = errors.New("checkout service: insufficient stock")
	// ErrCheckoutInvalidAmount indicates the payable total is outside the gateway's bounds.
	ErrCheckoutInvalidAmount = errors.New("checkout service: invalid amount")
	// ErrCheckoutGateway indicates the payment gateway rejected or failed the intent.
	ErrCheckoutGateway = errors.New("checkout service: gateway error")
	// ErrCheckoutUnavailable indicates a backend dependency failed.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")
)

// CheckoutServiceDeps enumerates collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Carts        CartService
	Stock        StockService
	Transactions repositories.TransactionRepository
	Payments     PaymentGateway
	// CommissionRateBps is the single canonical commission rate applied to
	// every ledger row.
	CommissionRateBps int64
	Provider          string
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts        CartService
	stock        StockService
	transactions repositories.TransactionRepository
	gateway      PaymentGateway
	rateBps      int64
	provider     string
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("checkout service: stock service is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("checkout service: transaction repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	rateBps := deps.CommissionRateBps
	if rateBps == 0 {
		rateBps = domain.DefaultCommissionRateBps
	}
	if rateBps < 0 || rateBps > 10_000 {
		return nil, fmt.Errorf("checkout service: commission rate %d bps out of range", rateBps)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:        deps.Carts,
		stock:        deps.Stock,
		transactions: deps.Transactions,
		gateway:      deps.Payments,
		rateBps:      rateBps,
		provider:     strings.TrimSpace(deps.Provider),
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

// checkoutLine is one priced, reservable unit of work shared by the cart and
// buy-now paths.
type checkoutLine struct {
	ListingID string
	SellerID  string
	Title     string
	Quantity  int
	UnitPrice Money
}

// Checkout validates the buyer's cart, reprices it from the live listings,
// reserves stock, creates the payment intent, and writes the pending ledger
// rows. The cart itself is left untouched; it is cleared only after the
// payment settles.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	buyer := strings.TrimSpace(cmd.BuyerID)
	if buyer == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	validation, err := s.carts.ValidateForCheckout(ctx, buyer)
	if err != nil {
		switch {
		case errors.Is(err, ErrCartEmpty):
			return CheckoutResult{}, ErrCheckoutEmptyCart
		case errors.Is(err, ErrCartInsufficientStock):
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInsufficientStock, err)
		case errors.Is(err, ErrCartListingUnavailable), errors.Is(err, ErrCartSelfPurchase), errors.Is(err, ErrCartInvalidInput):
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		default:
			return CheckoutResult{}, ErrCheckoutUnavailable
		}
	}

	lines := make([]checkoutLine, 0, len(validation.Cart.Items))
	for _, item := range validation.Cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		listing := validation.Listings[item.ListingID]
		lines = append(lines, checkoutLine{
			ListingID: item.ListingID,
			SellerID:  listing.SellerID,
			Title:     listing.Title,
			Quantity:  item.Quantity,
			UnitPrice: listing.Price,
		})
	}

	return s.settle(ctx, buyer, validation.Cart.Currency, lines, cmd.Shipping, cmd.IdempotencyKey)
}

// BuyNow checks out a single listing without touching the buyer's cart.
func (s *checkoutService) BuyNow(ctx context.Context, cmd BuyNowCommand) (CheckoutResult, error) {
	buyer := strings.TrimSpace(cmd.BuyerID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if buyer == "" || listingID == "" || cmd.Quantity <= 0 {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	listing, err := s.stock.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, ErrStockListingNotFound) {
			return CheckoutResult{}, fmt.Errorf("%w: listing %s", ErrCheckoutInvalidInput, listingID)
		}
		return CheckoutResult{}, ErrCheckoutUnavailable
	}
	if listing.SellerID == buyer {
		return CheckoutResult{}, fmt.Errorf("%w: cannot purchase own listing", ErrCheckoutInvalidInput)
	}
	if !listing.Purchasable() || cmd.Quantity > listing.AvailableQuantity() {
		return CheckoutResult{}, fmt.Errorf("%w: listing %s", ErrCheckoutInsufficientStock, listingID)
	}

	lines := []checkoutLine{{
		ListingID: listing.ID,
		SellerID:  listing.SellerID,
		Title:     listing.Title,
		Quantity:  cmd.Quantity,
		UnitPrice: listing.Price,
	}}
	return s.settle(ctx, buyer, listing.Currency, lines, cmd.Shipping, cmd.IdempotencyKey)
}

func (s *checkoutService) settle(ctx context.Context, buyer, currency string, lines []checkoutLine, shipping *ShippingDetails, idempotencyKey string) (CheckoutResult, error) {
	if len(lines) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}
	currency = domain.NormalizeCurrency(currency)

	var total Money
	for _, line := range lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	if err := payments.ValidateAmount(total, currency); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: total %d %s", ErrCheckoutInvalidAmount, total, currency)
	}

	s.logger(ctx, eventCheckoutStarted, map[string]any{
		"buyerId":  buyer,
		"lines":    len(lines),
		"total":    total,
		"currency": currency,
	})

	// Soft holds are taken line by line; a denied hold aborts the checkout
	// before the gateway is touched, and every earlier hold is returned.
	reserved := make([]checkoutLine, 0, len(lines))
	rollback := func(reason string) {
		for _, line := range reserved {
			if _, err := s.stock.ReleaseReservation(ctx, StockReleaseCommand{
				ListingID: line.ListingID,
				Quantity:  line.Quantity,
				Reason:    reason,
			}); err != nil {
				s.logger(ctx, eventCheckoutRolledBack, map[string]any{
					"listingId": line.ListingID,
					"qty":       line.Quantity,
					"error":     err.Error(),
				})
			}
		}
	}
	for _, line := range lines {
		outcome, err := s.stock.Reserve(ctx, StockReserveCommand{ListingID: line.ListingID, Quantity: line.Quantity})
		if err != nil {
			rollback("reserve_failed")
			return CheckoutResult{}, ErrCheckoutUnavailable
		}
		if !outcome.Reserved {
			rollback("reserve_denied")
			return CheckoutResult{}, fmt.Errorf("%w: listing %s has %d available", ErrCheckoutInsufficientStock, line.ListingID, outcome.Available)
		}
		reserved = append(reserved, line)
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = s.newID()
	}
	handle, err := s.gateway.CreateIntent(ctx, payments.PaymentContext{PreferredProvider: s.provider, Currency: currency}, payments.CreateIntentRequest{
		Amount:         total,
		Currency:       currency,
		CustomerID:     buyer,
		Description:    fmt.Sprintf("marketplace checkout (%d items)", len(lines)),
		IdempotencyKey: key,
		Metadata: map[string]string{
			"buyerId": buyer,
			"lines":   fmt.Sprintf("%d", len(lines)),
		},
	})
	if err != nil {
		rollback("intent_failed")
		if errors.Is(err, payments.ErrInvalidAmount) {
			return CheckoutResult{}, ErrCheckoutInvalidAmount
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutGateway, err)
	}
	s.logger(ctx, eventCheckoutIntentCreated, map[string]any{
		"buyerId":  buyer,
		"intentId": handle.ID,
		"amount":   handle.GatewayAmount,
		"currency": currency,
	})

	now := s.clock()
	txns := make([]domain.Transaction, 0, len(lines))
	txnIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		lineTotal := line.UnitPrice * int64(line.Quantity)
		commission, net, err := domain.SplitCommission(lineTotal, s.rateBps)
		if err != nil {
			rollback("commission_failed")
			s.cancelIntent(ctx, handle.ID, currency)
			return CheckoutResult{}, ErrCheckoutInvalidAmount
		}
		id := "txn_" + s.newID()
		txnIDs = append(txnIDs, id)
		txns = append(txns, domain.Transaction{
			ID:             id,
			IntentID:       handle.ID,
			ListingID:      line.ListingID,
			BuyerID:        buyer,
			SellerID:       line.SellerID,
			Quantity:       line.Quantity,
			UnitAmount:     line.UnitPrice,
			TotalAmount:    lineTotal,
			CommissionRate: s.rateBps,
			Commission:     commission,
			NetAmount:      net,
			Currency:       currency,
			Status:         domain.TransactionStatusPending,
			Shipping:       shipping,
			Title:          line.Title,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := s.transactions.InsertAll(ctx, txns); err != nil {
		rollback("ledger_failed")
		s.cancelIntent(ctx, handle.ID, currency)
		return CheckoutResult{}, ErrCheckoutUnavailable
	}
	s.logger(ctx, eventCheckoutLedgerWritten, map[string]any{
		"intentId": handle.ID,
		"rows":     len(txns),
	})

	return CheckoutResult{
		IntentID:       handle.ID,
		ClientSecret:   handle.ClientSecret,
		Provider:       handle.Provider,
		TransactionIDs: txnIDs,
		TotalAmount:    total,
		Currency:       currency,
	}, nil
}

// cancelIntent is best effort: a failed cancel leaves the intent to expire at
// the gateway and is only logged.
func (s *checkoutService) cancelIntent(ctx context.Context, intentID, currency string) {
	if _, err := s.gateway.CancelIntent(ctx, payments.PaymentContext{PreferredProvider: s.provider, Currency: currency}, payments.CancelRequest{
		IntentID: intentID,
		Reason:   "abandoned",
	}); err != nil {
		s.logger(ctx, eventCheckoutRolledBack, map[string]any{
			"intentId": intentID,
			"error":    err.Error(),
		})
	}
}
