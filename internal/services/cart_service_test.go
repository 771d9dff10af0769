package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/repositories"
)

type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*fakeRepoError)(nil)

type stubCartRepository struct {
	carts      map[string]domain.Cart
	getErr     error
	upsertErr  error
	replaceErr error

	upserted     []domain.Cart
	replacedWith [][]domain.CartItem
}

func (s *stubCartRepository) GetCart(_ context.Context, buyerID string) (domain.Cart, error) {
	if s.getErr != nil {
		return domain.Cart{}, s.getErr
	}
	cart, ok := s.carts[buyerID]
	if !ok {
		return domain.Cart{}, &fakeRepoError{msg: "cart not found", notFound: true}
	}
	return cart, nil
}

func (s *stubCartRepository) UpsertCart(_ context.Context, cart domain.Cart, _ *time.Time) (domain.Cart, error) {
	if s.upsertErr != nil {
		return domain.Cart{}, s.upsertErr
	}
	if s.carts == nil {
		s.carts = map[string]domain.Cart{}
	}
	s.carts[cart.BuyerID] = cart
	s.upserted = append(s.upserted, cart)
	return cart, nil
}

func (s *stubCartRepository) ReplaceItems(_ context.Context, buyerID string, items []domain.CartItem) (domain.Cart, error) {
	if s.replaceErr != nil {
		return domain.Cart{}, s.replaceErr
	}
	s.replacedWith = append(s.replacedWith, items)
	cart := s.carts[buyerID]
	cart.BuyerID = buyerID
	cart.Items = items
	if s.carts == nil {
		s.carts = map[string]domain.Cart{}
	}
	s.carts[buyerID] = cart
	return cart, nil
}

var _ repositories.CartRepository = (*stubCartRepository)(nil)

func newCartServiceForTest(t *testing.T, carts *stubCartRepository, listings *stubListingRepository) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Repository:      carts,
		Listings:        listings,
		Clock:           func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
		DefaultCurrency: "XOF",
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceAddItemClampsToAvailability(t *testing.T) {
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {
				ID:       "listing-1",
				SellerID: "seller-1",
				Title:    "Bogolan throw",
				Price:    50_000,
				Currency: "XOF",
				Quantity: 3,
				Status:   domain.ListingStatusActive,
			},
		},
	}
	carts := &stubCartRepository{}
	svc := newCartServiceForTest(t, carts, listings)

	result, err := svc.AddItem(context.Background(), AddCartItemCommand{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  10,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if !result.Clamped {
		t.Fatalf("expected clamp when requesting above availability")
	}
	if result.AvailableQuantity != 3 {
		t.Fatalf("expected availability 3, got %d", result.AvailableQuantity)
	}
	if len(result.Cart.Items) != 1 || result.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected stored quantity clamped to 3, got %+v", result.Cart.Items)
	}
	if result.Cart.Currency != "XOF" {
		t.Fatalf("expected cart currency XOF, got %s", result.Cart.Currency)
	}
}

func TestCartServiceAddItemMergesExistingLine(t *testing.T) {
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {
				ID:       "listing-1",
				SellerID: "seller-1",
				Price:    10_000,
				Currency: "XOF",
				Quantity: 20,
				Status:   domain.ListingStatusActive,
			},
		},
	}
	carts := &stubCartRepository{}
	svc := newCartServiceForTest(t, carts, listings)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-1", Quantity: 2}); err != nil {
		t.Fatalf("first AddItem: %v", err)
	}
	result, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-1", Quantity: 3})
	if err != nil {
		t.Fatalf("second AddItem: %v", err)
	}
	if len(result.Cart.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(result.Cart.Items))
	}
	if result.Cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5 after merge, got %d", result.Cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemRejectsSelfPurchase(t *testing.T) {
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {
				ID:       "listing-1",
				SellerID: "buyer-1",
				Price:    10_000,
				Currency: "XOF",
				Quantity: 5,
				Status:   domain.ListingStatusActive,
			},
		},
	}
	svc := newCartServiceForTest(t, &stubCartRepository{}, listings)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-1", Quantity: 1})
	if !errors.Is(err, ErrCartSelfPurchase) {
		t.Fatalf("expected self purchase error, got %v", err)
	}
}

func TestCartServiceAddItemRejectsCurrencyMismatch(t *testing.T) {
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-xof": {ID: "listing-xof", SellerID: "seller-1", Price: 10_000, Currency: "XOF", Quantity: 5, Status: domain.ListingStatusActive},
			"listing-ghs": {ID: "listing-ghs", SellerID: "seller-2", Price: 2_500, Currency: "GHS", Quantity: 5, Status: domain.ListingStatusActive},
		},
	}
	svc := newCartServiceForTest(t, &stubCartRepository{}, listings)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-xof", Quantity: 1}); err != nil {
		t.Fatalf("AddItem XOF: %v", err)
	}
	_, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-ghs", Quantity: 1})
	if !errors.Is(err, ErrCartCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
}

func TestCartServiceAddItemUnavailableListing(t *testing.T) {
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {ID: "listing-1", SellerID: "seller-1", Quantity: 2, QuantitySold: 2, Status: domain.ListingStatusSold},
		},
	}
	svc := newCartServiceForTest(t, &stubCartRepository{}, listings)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "listing-1", Quantity: 1}); !errors.Is(err, ErrCartListingUnavailable) {
		t.Fatalf("expected unavailable for sold listing, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ListingID: "missing", Quantity: 1}); !errors.Is(err, ErrCartListingUnavailable) {
		t.Fatalf("expected unavailable for missing listing, got %v", err)
	}
}

func TestCartServiceUpdateItemQuantityZeroRemovesLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartRepository{
		carts: map[string]domain.Cart{
			"buyer-1": {
				ID:      "buyer-1",
				BuyerID: "buyer-1",
				Items: []domain.CartItem{
					{ID: "line-1", ListingID: "listing-1", Quantity: 2, AddedAt: now},
				},
				UpdatedAt: now,
			},
		},
	}
	svc := newCartServiceForTest(t, carts, &stubListingRepository{})

	cart, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  0,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart after zero-quantity update, got %+v", cart.Items)
	}
	if len(carts.replacedWith) != 1 {
		t.Fatalf("expected items replaced once, got %d", len(carts.replacedWith))
	}
}

func TestCartServiceValidateForCheckoutEmptyCart(t *testing.T) {
	svc := newCartServiceForTest(t, &stubCartRepository{}, &stubListingRepository{})

	if _, err := svc.ValidateForCheckout(context.Background(), "buyer-1"); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected empty cart error for missing cart, got %v", err)
	}
}

func TestCartServiceValidateForCheckoutInsufficientStock(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartRepository{
		carts: map[string]domain.Cart{
			"buyer-1": {
				ID:       "buyer-1",
				BuyerID:  "buyer-1",
				Currency: "XOF",
				Items: []domain.CartItem{
					{ID: "line-1", ListingID: "listing-1", Quantity: 5, AddedAt: now},
				},
				UpdatedAt: now,
			},
		},
	}
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {ID: "listing-1", SellerID: "seller-1", Price: 10_000, Currency: "XOF", Quantity: 5, QuantitySold: 3, Status: domain.ListingStatusActive},
		},
	}
	svc := newCartServiceForTest(t, carts, listings)

	if _, err := svc.ValidateForCheckout(context.Background(), "buyer-1"); !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCartServiceTotalPriceReprisesFromLiveListings(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartRepository{
		carts: map[string]domain.Cart{
			"buyer-1": {
				ID:       "buyer-1",
				BuyerID:  "buyer-1",
				Currency: "XOF",
				Items: []domain.CartItem{
					// stale snapshot price: the live listing has since changed
					{ID: "line-1", ListingID: "listing-1", Quantity: 2, UnitPrice: 10_000, AddedAt: now},
				},
				UpdatedAt: now,
			},
		},
	}
	listings := &stubListingRepository{
		listings: map[string]domain.Listing{
			"listing-1": {ID: "listing-1", SellerID: "seller-1", Price: 12_500, Currency: "XOF", Quantity: 10, Status: domain.ListingStatusActive},
		},
	}
	svc := newCartServiceForTest(t, carts, listings)

	total, err := svc.TotalPrice(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("TotalPrice: %v", err)
	}
	if total.Total != 25_000 {
		t.Fatalf("expected repriced total 25000, got %d", total.Total)
	}
	if len(total.Lines) != 1 || total.Lines[0].UnitPrice != 12_500 {
		t.Fatalf("expected live unit price 12500, got %+v", total.Lines)
	}
}

func TestCartServiceClearCartToleratesMissingCart(t *testing.T) {
	carts := &stubCartRepository{
		replaceErr: &fakeRepoError{msg: "cart not found", notFound: true},
	}
	svc := newCartServiceForTest(t, carts, &stubListingRepository{})

	if err := svc.ClearCart(context.Background(), "buyer-1"); err != nil {
		t.Fatalf("ClearCart should tolerate a missing cart, got %v", err)
	}
}
