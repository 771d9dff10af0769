package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sahel-market/api/internal/platform/auth"
	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/services"
)

const (
	maxCheckoutBodySize     = 8 * 1024
	checkoutRateLimit       = 10
	checkoutRateLimitWindow = time.Minute
)

// CheckoutHandlers exposes the checkout and payment confirmation endpoints.
type CheckoutHandlers struct {
	authn     *auth.Authenticator
	checkout  services.CheckoutService
	reconcile services.ReconciliationService
	limiter   rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase
// authentication and a per-buyer rate limit.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, reconcile services.ReconciliationService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:     authn,
		checkout:  checkout,
		reconcile: reconcile,
		limiter:   newSimpleRateLimiter(checkoutRateLimit, checkoutRateLimitWindow, time.Now),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.startCheckout)
	r.Post("/buy-now", h.buyNow)
	r.Post("/confirm", h.confirmPayment)
}

type shippingPayload struct {
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Note          string `json:"note,omitempty"`
}

type checkoutRequest struct {
	Shipping       *shippingPayload `json:"shipping"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

type buyNowRequest struct {
	ListingID      string           `json:"listingId"`
	Quantity       int              `json:"quantity"`
	Shipping       *shippingPayload `json:"shipping"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

type checkoutResponse struct {
	IntentID       string   `json:"intentId"`
	ClientSecret   string   `json:"clientSecret,omitempty"`
	Provider       string   `json:"provider"`
	TransactionIDs []string `json:"transactionIds"`
	TotalAmount    int64    `json:"totalAmount"`
	Currency       string   `json:"currency"`
}

type confirmPaymentRequest struct {
	IntentID string `json:"intentId"`
}

type confirmPaymentResponse struct {
	IntentID         string   `json:"intentId"`
	GatewayStatus    string   `json:"gatewayStatus"`
	Processed        int      `json:"processed"`
	AlreadyProcessed bool     `json:"alreadyProcessed"`
	OrderIDs         []string `json:"orderIds,omitempty"`
	OrderNumbers     []string `json:"orderNumbers,omitempty"`
}

func (h *CheckoutHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(buyerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	shipping, err := buildShippingDetails(req.Shipping)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		BuyerID:        buyerID,
		Shipping:       shipping,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(result))
}

func (h *CheckoutHandlers) buyNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(buyerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req buyNowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ListingID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listingId is required", http.StatusBadRequest))
		return
	}
	if req.Quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be positive", http.StatusBadRequest))
		return
	}
	shipping, err := buildShippingDetails(req.Shipping)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.checkout.BuyNow(ctx, services.BuyNowCommand{
		BuyerID:        buyerID,
		ListingID:      strings.TrimSpace(req.ListingID),
		Quantity:       req.Quantity,
		Shipping:       shipping,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(result))
}

// confirmPayment is the client-driven polling path. The reconciliation
// service re-reads the gateway, so a buyer can only make their own intent
// settle, never fake a success.
func (h *CheckoutHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "confirmation is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireBuyer(ctx, w); !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "intentId is required", http.StatusBadRequest))
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		IntentID: intentID,
		Source:   "client",
	})
	if err != nil {
		writeReconcileError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, confirmPaymentResponse{
		IntentID:         result.IntentID,
		GatewayStatus:    result.GatewayStatus,
		Processed:        result.Processed,
		AlreadyProcessed: result.AlreadyProcessed,
		OrderIDs:         result.OrderIDs,
		OrderNumbers:     result.OrderNumbers,
	})
}

func (h *CheckoutHandlers) requireBuyer(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_amount", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func writeReconcileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReconcileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReconcileUnknownIntent):
		httpx.WriteError(ctx, w, httpx.NewError("intent_not_found", "no transactions found for intent", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway lookup failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrReconcileUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_unavailable", "reconciliation is unavailable; retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_error", "failed to confirm payment", http.StatusInternalServerError))
	}
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		IntentID:       result.IntentID,
		ClientSecret:   result.ClientSecret,
		Provider:       result.Provider,
		TransactionIDs: result.TransactionIDs,
		TotalAmount:    result.TotalAmount,
		Currency:       result.Currency,
	}
}

func buildShippingDetails(payload *shippingPayload) (*services.ShippingDetails, error) {
	if payload == nil {
		return nil, errors.New("shipping details are required")
	}
	details := services.ShippingDetails{
		RecipientName: strings.TrimSpace(payload.RecipientName),
		Phone:         strings.TrimSpace(payload.Phone),
		Line1:         strings.TrimSpace(payload.Line1),
		Line2:         strings.TrimSpace(payload.Line2),
		City:          strings.TrimSpace(payload.City),
		Country:       strings.ToUpper(strings.TrimSpace(payload.Country)),
		Note:          strings.TrimSpace(payload.Note),
	}
	if details.RecipientName == "" || details.Line1 == "" || details.City == "" || details.Country == "" {
		return nil, errors.New("shipping recipientName, line1, city and country are required")
	}
	return &details, nil
}
