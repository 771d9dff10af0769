package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/platform/auth"
	"github.com/sahel-market/api/internal/services"
)

type fakeCartService struct {
	cart       services.Cart
	addResult  services.AddCartItemResult
	err        error
	addCmds    []services.AddCartItemCommand
	updateCmds []services.UpdateCartItemCommand
	removeCmds []services.RemoveCartItemCommand
	cleared    []string
	total      services.CartTotal
}

func (f *fakeCartService) GetOrCreateCart(_ context.Context, buyerID string) (services.Cart, error) {
	if f.err != nil {
		return services.Cart{}, f.err
	}
	return f.cart, nil
}

func (f *fakeCartService) AddItem(_ context.Context, cmd services.AddCartItemCommand) (services.AddCartItemResult, error) {
	f.addCmds = append(f.addCmds, cmd)
	if f.err != nil {
		return services.AddCartItemResult{}, f.err
	}
	return f.addResult, nil
}

func (f *fakeCartService) UpdateItemQuantity(_ context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	f.updateCmds = append(f.updateCmds, cmd)
	if f.err != nil {
		return services.Cart{}, f.err
	}
	return f.cart, nil
}

func (f *fakeCartService) RemoveItem(_ context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	f.removeCmds = append(f.removeCmds, cmd)
	if f.err != nil {
		return services.Cart{}, f.err
	}
	return f.cart, nil
}

func (f *fakeCartService) ValidateForCheckout(context.Context, string) (services.CartValidation, error) {
	return services.CartValidation{}, f.err
}

func (f *fakeCartService) TotalPrice(context.Context, string) (services.CartTotal, error) {
	if f.err != nil {
		return services.CartTotal{}, f.err
	}
	return f.total, nil
}

func (f *fakeCartService) ClearCart(_ context.Context, buyerID string) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, buyerID)
	return nil
}

func newCartRouter(carts services.CartService) http.Handler {
	r := chi.NewRouter()
	r.Route("/cart", NewCartHandlers(nil, carts).Routes)
	return r
}

func authedRequest(method, target string, body []byte, uid string) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestCartHandlersRequireAuthentication(t *testing.T) {
	router := newCartRouter(&fakeCartService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/cart", nil, ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "unauthenticated" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestCartHandlersGetCartReturnsCart(t *testing.T) {
	carts := &fakeCartService{cart: services.Cart{
		ID: "cart-1", BuyerID: "buyer-1", Currency: "xof",
		Items: []domain.CartItem{{ID: "line-1", ListingID: "listing-1", SellerID: "seller-1", Quantity: 2, UnitPrice: 10_000, Currency: "XOF"}},
	}}
	router := newCartRouter(carts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/cart", nil, "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	cart, _ := body["cart"].(map[string]any)
	if cart["currency"] != "XOF" {
		t.Fatalf("expected normalized currency, got %v", cart["currency"])
	}
	if cart["items_count"] != float64(1) {
		t.Fatalf("expected one item, got %v", cart["items_count"])
	}
}

func TestCartHandlersAddItemReportsClamp(t *testing.T) {
	carts := &fakeCartService{addResult: services.AddCartItemResult{
		Cart:              services.Cart{ID: "cart-1", BuyerID: "buyer-1", Currency: "XOF"},
		Clamped:           true,
		AvailableQuantity: 3,
	}}
	router := newCartRouter(carts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/cart/items",
		[]byte(`{"listingId":"listing-1","quantity":10}`), "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["clamped"] != true || body["available"] != float64(3) {
		t.Fatalf("expected the clamp to be reported, got %v", body)
	}
	if len(carts.addCmds) != 1 || carts.addCmds[0].Quantity != 10 {
		t.Fatalf("unexpected command %+v", carts.addCmds)
	}
}

func TestCartHandlersAddItemValidation(t *testing.T) {
	router := newCartRouter(&fakeCartService{})

	cases := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: `{"listingId"`},
		{name: "missing listing", body: `{"quantity":1}`},
		{name: "zero quantity", body: `{"listingId":"listing-1","quantity":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodPost, "/cart/items", []byte(tc.body), "buyer-1"))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestCartHandlersSelfPurchaseConflict(t *testing.T) {
	router := newCartRouter(&fakeCartService{err: services.ErrCartSelfPurchase})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/cart/items",
		[]byte(`{"listingId":"listing-1","quantity":1}`), "seller-1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "self_purchase" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestCartHandlersUpdateItemRejectsNegativeQuantity(t *testing.T) {
	router := newCartRouter(&fakeCartService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/cart/items/listing-1",
		[]byte(`{"quantity":-1}`), "buyer-1"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCartHandlersRemoveItemPassesListingID(t *testing.T) {
	carts := &fakeCartService{cart: services.Cart{ID: "cart-1", BuyerID: "buyer-1", Currency: "XOF"}}
	router := newCartRouter(carts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/cart/items/listing-1", nil, "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(carts.removeCmds) != 1 || carts.removeCmds[0].ListingID != "listing-1" {
		t.Fatalf("unexpected command %+v", carts.removeCmds)
	}
}

func TestCartHandlersClearCartNoContent(t *testing.T) {
	carts := &fakeCartService{}
	router := newCartRouter(carts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/cart", nil, "buyer-1"))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(carts.cleared) != 1 || carts.cleared[0] != "buyer-1" {
		t.Fatalf("unexpected clears %v", carts.cleared)
	}
}

func TestCartHandlersTotalRepricesLines(t *testing.T) {
	carts := &fakeCartService{total: services.CartTotal{
		Currency: "XOF",
		Total:    25_000,
		Lines: []services.CartTotalLine{
			{ListingID: "listing-1", Quantity: 2, UnitPrice: 12_500, LineTotal: 25_000},
		},
	}}
	router := newCartRouter(carts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/cart/total", nil, "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(25_000) {
		t.Fatalf("unexpected total %v", body["total"])
	}
}
