package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sahel-market/api/internal/platform/auth"
	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/services"
)

const maxCartBodySize = 8 * 1024

// CartHandlers exposes authenticated cart endpoints for the current buyer.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/total", h.getTotal)
	r.Post("/items", h.addItem)
	r.Patch("/items/{listingID}", h.updateItem)
	r.Delete("/items/{listingID}", h.removeItem)
}

type addCartItemRequest struct {
	ListingID string `json:"listingId"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
	// Clamped is set when the requested quantity exceeded availability and
	// was reduced to what the listing can still sell.
	Clamped   bool `json:"clamped,omitempty"`
	Available int  `json:"available,omitempty"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	BuyerID    string            `json:"buyer_id"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	SellerID  string `json:"seller_id"`
	Title     string `json:"title,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
	AddedAt   string `json:"added_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type cartTotalResponse struct {
	Currency string                 `json:"currency"`
	Total    int64                  `json:"total"`
	Lines    []cartTotalLinePayload `json:"lines"`
}

type cartTotalLinePayload struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, buyerID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
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

	result, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		BuyerID:   buyerID,
		ListingID: strings.TrimSpace(req.ListingID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(result.Cart)}
	if result.Clamped {
		payload.Clamped = true
		payload.Available = result.AvailableQuantity
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must not be negative", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		BuyerID:   buyerID,
		ListingID: listingID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		BuyerID:   buyerID,
		ListingID: listingID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, buyerID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) getTotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID, ok := h.requireBuyer(ctx, w)
	if !ok {
		return
	}

	total, err := h.carts.TotalPrice(ctx, buyerID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	lines := make([]cartTotalLinePayload, 0, len(total.Lines))
	for _, line := range total.Lines {
		lines = append(lines, cartTotalLinePayload{
			ListingID: line.ListingID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	writeJSONResponse(w, http.StatusOK, cartTotalResponse{
		Currency: total.Currency,
		Total:    total.Total,
		Lines:    lines,
	})
}

func (h *CartHandlers) requireBuyer(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartSelfPurchase):
		httpx.WriteError(ctx, w, httpx.NewError("self_purchase", "sellers cannot buy their own listings", http.StatusConflict))
	case errors.Is(err, services.ErrCartListingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("listing_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("currency_mismatch", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		BuyerID:    strings.TrimSpace(cart.BuyerID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:        strings.TrimSpace(item.ID),
			ListingID: strings.TrimSpace(item.ListingID),
			SellerID:  strings.TrimSpace(item.SellerID),
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  strings.ToUpper(strings.TrimSpace(item.Currency)),
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		if item.UpdatedAt != nil && !item.UpdatedAt.IsZero() {
			entry.UpdatedAt = formatTime(*item.UpdatedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}
