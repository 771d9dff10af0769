package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/repositories"
)

const maxCartLineQuantity = 99

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartEmpty indicates a checkout pre-flight ran against an empty cart.
var ErrCartEmpty = errors.New("cart service: cart is empty")

// ErrCartListingUnavailable indicates a cart line references a listing that can no longer be sold.
var ErrCartListingUnavailable = errors.New("cart service: listing unavailable")

// ErrCartSelfPurchase indicates a buyer tried to purchase their own listing.
var ErrCartSelfPurchase = errors.New("cart service: cannot purchase own listing")

// ErrCartInsufficientStock indicates a cart line exceeds the listing's availability.
var ErrCartInsufficientStock = errors.New("cart service: insufficient stock")

// ErrCartCurrencyMismatch indicates a line's currency differs from the cart's.
var ErrCartCurrencyMismatch = errors.New("cart service: currency mismatch")

// CartServiceDeps wires the repository and listing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Listings        repositories.ListingRepository
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	listings repositories.ListingRepository
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Listings == nil {
		return nil, errors.New("cart service: listing repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("cart service: clock is required")
	}

	defaultCurrency := domain.NormalizeCurrency(deps.DefaultCurrency)
	if defaultCurrency == "" {
		defaultCurrency = "XOF"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:     deps.Repository,
		listings: deps.Listings,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}, nil
}

// GetOrCreateCart loads the active cart for the buyer, creating a new cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, buyerID string) (Cart, error) {
	buyer := strings.TrimSpace(buyerID)
	if buyer == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, buyer)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, s.translateRepoError(err)
		}
		saved, err := s.repo.UpsertCart(ctx, s.newCart(buyer), nil)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		cart = saved
	}
	return cart, nil
}

// AddItem merges quantity into an existing line for the same listing, or
// appends a new line. The stored quantity is clamped to the listing's current
// availability and the clamp is reported back to the caller rather than
// failing the add.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error) {
	buyer := strings.TrimSpace(cmd.BuyerID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if buyer == "" || listingID == "" || cmd.Quantity <= 0 {
		return AddCartItemResult{}, ErrCartInvalidInput
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) || isStockNotFound(err) {
			return AddCartItemResult{}, ErrCartListingUnavailable
		}
		return AddCartItemResult{}, s.translateRepoError(err)
	}
	if listing.SellerID == buyer {
		return AddCartItemResult{}, ErrCartSelfPurchase
	}
	if !listing.Purchasable() {
		return AddCartItemResult{}, ErrCartListingUnavailable
	}

	cart, err := s.GetOrCreateCart(ctx, buyer)
	if err != nil {
		return AddCartItemResult{}, err
	}

	currency := domain.NormalizeCurrency(listing.Currency)
	if !cart.IsEmpty() && cart.Currency != "" && cart.Currency != currency {
		return AddCartItemResult{}, ErrCartCurrencyMismatch
	}

	now := s.now()
	loadedAt := cart.UpdatedAt
	available := listing.AvailableQuantity()
	requested := cmd.Quantity

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ListingID != listingID {
			continue
		}
		requested = cart.Items[i].Quantity + cmd.Quantity
		cart.Items[i].Quantity = requested
		cart.Items[i].UnitPrice = listing.Price
		cart.Items[i].UpdatedAt = &now
		merged = true
		break
	}
	if !merged {
		cart.Items = append(cart.Items, CartItem{
			ID:        s.newID(),
			ListingID: listingID,
			SellerID:  listing.SellerID,
			Quantity:  requested,
			UnitPrice: listing.Price,
			Currency:  currency,
			Title:     listing.Title,
			AddedAt:   now,
		})
	}

	clamped := false
	limit := available
	if limit > maxCartLineQuantity {
		limit = maxCartLineQuantity
	}
	for i := range cart.Items {
		if cart.Items[i].ListingID != listingID {
			continue
		}
		if cart.Items[i].Quantity > limit {
			cart.Items[i].Quantity = limit
			clamped = true
		}
	}
	if cart.Currency == "" {
		cart.Currency = currency
	}
	cart.UpdatedAt = now

	saved, err := s.repo.UpsertCart(ctx, cart, cartPrecondition(loadedAt))
	if err != nil {
		return AddCartItemResult{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"buyerId":   buyer,
		"listingId": listingID,
		"qty":       requested,
		"clamped":   clamped,
		"available": available,
	})
	return AddCartItemResult{Cart: saved, Clamped: clamped, AvailableQuantity: available}, nil
}

// UpdateItemQuantity replaces a line's quantity, clamped to availability.
// A zero quantity removes the line.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	buyer := strings.TrimSpace(cmd.BuyerID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if buyer == "" || listingID == "" || cmd.Quantity < 0 {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{BuyerID: buyer, ListingID: listingID})
	}

	cart, err := s.repo.GetCart(ctx, buyer)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) || isStockNotFound(err) {
			return Cart{}, ErrCartListingUnavailable
		}
		return Cart{}, s.translateRepoError(err)
	}

	now := s.now()
	loadedAt := cart.UpdatedAt
	quantity := cmd.Quantity
	if available := listing.AvailableQuantity(); quantity > available {
		quantity = available
	}
	if quantity > maxCartLineQuantity {
		quantity = maxCartLineQuantity
	}
	if quantity <= 0 {
		return Cart{}, ErrCartInsufficientStock
	}

	found := false
	for i := range cart.Items {
		if cart.Items[i].ListingID != listingID {
			continue
		}
		cart.Items[i].Quantity = quantity
		cart.Items[i].UnitPrice = listing.Price
		cart.Items[i].UpdatedAt = &now
		found = true
		break
	}
	if !found {
		return Cart{}, ErrCartNotFound
	}
	cart.UpdatedAt = now

	saved, err := s.repo.UpsertCart(ctx, cart, cartPrecondition(loadedAt))
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// RemoveItem drops the line for the given listing.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	buyer := strings.TrimSpace(cmd.BuyerID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if buyer == "" || listingID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, buyer)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	items := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ListingID == listingID {
			removed = true
			continue
		}
		items = append(items, item)
	}
	if !removed {
		return Cart{}, ErrCartNotFound
	}

	saved, err := s.repo.ReplaceItems(ctx, buyer, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// ValidateForCheckout re-checks every line against the live listings and
// fails on the first problem it finds. The returned validation carries the
// live listings so checkout can reprice without a second read.
func (s *cartService) ValidateForCheckout(ctx context.Context, buyerID string) (CartValidation, error) {
	buyer := strings.TrimSpace(buyerID)
	if buyer == "" {
		return CartValidation{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, buyer)
	if err != nil {
		if isRepoNotFound(err) {
			return CartValidation{}, ErrCartEmpty
		}
		return CartValidation{}, s.translateRepoError(err)
	}
	if cart.IsEmpty() {
		return CartValidation{}, ErrCartEmpty
	}

	listingIDs := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		listingIDs = append(listingIDs, item.ListingID)
	}
	listings, err := s.listings.FindByIDs(ctx, listingIDs)
	if err != nil {
		return CartValidation{}, s.translateRepoError(err)
	}

	for _, item := range cart.Items {
		listing, ok := listings[item.ListingID]
		if !ok {
			return CartValidation{}, fmt.Errorf("%w: listing %s", ErrCartListingUnavailable, item.ListingID)
		}
		if listing.SellerID == buyer {
			return CartValidation{}, fmt.Errorf("%w: listing %s", ErrCartSelfPurchase, item.ListingID)
		}
		if !listing.Purchasable() {
			return CartValidation{}, fmt.Errorf("%w: listing %s", ErrCartListingUnavailable, item.ListingID)
		}
		if item.Quantity > listing.AvailableQuantity() {
			return CartValidation{}, fmt.Errorf("%w: listing %s has %d available", ErrCartInsufficientStock, item.ListingID, listing.AvailableQuantity())
		}
	}

	return CartValidation{Cart: cart, Listings: listings}, nil
}

// TotalPrice recomputes the payable total from current listing prices. The
// stored line snapshots are display hints only and never feed the total.
func (s *cartService) TotalPrice(ctx context.Context, buyerID string) (CartTotal, error) {
	validation, err := s.ValidateForCheckout(ctx, buyerID)
	if err != nil {
		return CartTotal{}, err
	}
	return repriceCart(validation), nil
}

// ClearCart empties the buyer's cart. Reconciliation calls this after a
// successful payment; a missing cart is not an error.
func (s *cartService) ClearCart(ctx context.Context, buyerID string) error {
	buyer := strings.TrimSpace(buyerID)
	if buyer == "" {
		return ErrCartInvalidInput
	}
	if _, err := s.repo.ReplaceItems(ctx, buyer, nil); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"buyerId": buyer})
	return nil
}

func (s *cartService) newCart(buyerID string) Cart {
	now := s.now()
	return Cart{
		ID:        buyerID,
		BuyerID:   buyerID,
		Currency:  s.currency,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}

// repriceCart derives the cart total from the live listings carried by a
// successful validation.
func repriceCart(validation CartValidation) CartTotal {
	total := CartTotal{Currency: validation.Cart.Currency}
	for _, item := range validation.Cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		listing := validation.Listings[item.ListingID]
		line := CartTotalLine{
			ListingID: item.ListingID,
			Quantity:  item.Quantity,
			UnitPrice: listing.Price,
			LineTotal: listing.Price * int64(item.Quantity),
		}
		total.Lines = append(total.Lines, line)
		total.Total += line.LineTotal
	}
	return total
}

// cartPrecondition turns the load-time update timestamp into an optimistic
// write precondition. A zero timestamp means the cart was just created and
// there is nothing to guard against.
func cartPrecondition(loadedAt time.Time) *time.Time {
	if loadedAt.IsZero() {
		return nil
	}
	return &loadedAt
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isStockNotFound(err error) bool {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return stockErr.Code == repositories.StockErrorListingNotFound
	}
	return false
}
