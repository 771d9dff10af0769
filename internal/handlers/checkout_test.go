package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sahel-market/api/internal/services"
)

type fakeCheckoutService struct {
	result      services.CheckoutResult
	err         error
	checkouts   []services.CheckoutCommand
	buyNowCmds  []services.BuyNowCommand
}

func (f *fakeCheckoutService) Checkout(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	f.checkouts = append(f.checkouts, cmd)
	if f.err != nil {
		return services.CheckoutResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeCheckoutService) BuyNow(_ context.Context, cmd services.BuyNowCommand) (services.CheckoutResult, error) {
	f.buyNowCmds = append(f.buyNowCmds, cmd)
	if f.err != nil {
		return services.CheckoutResult{}, f.err
	}
	return f.result, nil
}

type fakeReconciliationService struct {
	result services.ReconcileResult
	err    error
	cmds   []services.ReconcileCommand
}

func (f *fakeReconciliationService) Reconcile(_ context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	f.cmds = append(f.cmds, cmd)
	if f.err != nil {
		return services.ReconcileResult{}, f.err
	}
	return f.result, nil
}

func newCheckoutRouter(checkout services.CheckoutService, reconcile services.ReconciliationService) http.Handler {
	r := chi.NewRouter()
	r.Route("/checkout", NewCheckoutHandlers(nil, checkout, reconcile).Routes)
	return r
}

const validCheckoutBody = `{
	"shipping": {
		"recipientName": "Awa Diop",
		"phone": "+221770000000",
		"line1": "12 Rue Felix Faure",
		"city": "Dakar",
		"country": "sn"
	},
	"idempotencyKey": "key-1"
}`

func TestCheckoutHandlersStartCheckoutSuccess(t *testing.T) {
	checkout := &fakeCheckoutService{result: services.CheckoutResult{
		IntentID:       "pi_1",
		ClientSecret:   "cs_1",
		Provider:       "stripe",
		TransactionIDs: []string{"txn-1"},
		TotalAmount:    100_000,
		Currency:       "XOF",
	}}
	router := newCheckoutRouter(checkout, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["intentId"] != "pi_1" || body["totalAmount"] != float64(100_000) {
		t.Fatalf("unexpected response %v", body)
	}

	if len(checkout.checkouts) != 1 {
		t.Fatalf("expected one checkout, got %d", len(checkout.checkouts))
	}
	cmd := checkout.checkouts[0]
	if cmd.BuyerID != "buyer-1" || cmd.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Shipping == nil || cmd.Shipping.Country != "SN" {
		t.Fatalf("expected an upper-cased country, got %+v", cmd.Shipping)
	}
}

func TestCheckoutHandlersStartCheckoutRequiresShipping(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{}, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout",
		[]byte(`{"idempotencyKey":"key-1"}`), "buyer-1"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCheckoutHandlersStartCheckoutRequiresAuth(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{}, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "empty cart", err: services.ErrCheckoutEmptyCart, wantStatus: http.StatusConflict, wantCode: "cart_empty"},
		{name: "insufficient stock", err: services.ErrCheckoutInsufficientStock, wantStatus: http.StatusConflict, wantCode: "insufficient_stock"},
		{name: "invalid amount", err: services.ErrCheckoutInvalidAmount, wantStatus: http.StatusUnprocessableEntity, wantCode: "invalid_amount"},
		{name: "gateway failure", err: services.ErrCheckoutGateway, wantStatus: http.StatusBadGateway, wantCode: "payment_gateway_error"},
		{name: "backend outage", err: services.ErrCheckoutUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "checkout_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newCheckoutRouter(&fakeCheckoutService{err: tc.err}, &fakeReconciliationService{})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-1"))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != tc.wantCode {
				t.Fatalf("expected code %q, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestCheckoutHandlersBuyNowValidation(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{}, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout/buy-now",
		[]byte(`{"quantity":1}`), "buyer-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing listing, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout/buy-now",
		[]byte(`{"listingId":"listing-1","quantity":0}`), "buyer-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a zero quantity, got %d", rec.Code)
	}
}

func TestCheckoutHandlersConfirmPayment(t *testing.T) {
	reconcile := &fakeReconciliationService{result: services.ReconcileResult{
		IntentID:      "pi_1",
		GatewayStatus: "succeeded",
		Processed:     2,
		OrderIDs:      []string{"ord-1"},
		OrderNumbers:  []string{"SM-2024-000001"},
	}}
	router := newCheckoutRouter(&fakeCheckoutService{}, reconcile)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout/confirm",
		[]byte(`{"intentId":"pi_1"}`), "buyer-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["gatewayStatus"] != "succeeded" || body["processed"] != float64(2) {
		t.Fatalf("unexpected response %v", body)
	}
	if len(reconcile.cmds) != 1 || reconcile.cmds[0].Source != "client" {
		t.Fatalf("unexpected reconcile command %+v", reconcile.cmds)
	}
}

func TestCheckoutHandlersConfirmPaymentRequiresIntentID(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{}, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout/confirm",
		[]byte(`{}`), "buyer-1"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCheckoutHandlersConfirmPaymentUnknownIntent(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{}, &fakeReconciliationService{err: services.ErrReconcileUnknownIntent})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout/confirm",
		[]byte(`{"intentId":"pi_missing"}`), "buyer-1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckoutHandlersRateLimitPerBuyer(t *testing.T) {
	checkout := &fakeCheckoutService{result: services.CheckoutResult{IntentID: "pi_1", Currency: "XOF"}}
	router := newCheckoutRouter(checkout, &fakeReconciliationService{})

	var last int
	for i := 0; i < checkoutRateLimit+1; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-1"))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the limiter to trip, got %d", last)
	}

	// A different buyer has their own bucket.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected an independent window per buyer, got %d", rec.Code)
	}
}

func TestCheckoutHandlersNilServiceUnavailable(t *testing.T) {
	router := newCheckoutRouter(nil, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-1"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

var errBoom = errors.New("boom")

func TestCheckoutHandlersUnknownErrorIsInternal(t *testing.T) {
	router := newCheckoutRouter(&fakeCheckoutService{err: errBoom}, &fakeReconciliationService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte(validCheckoutBody), "buyer-1"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
