package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/platform/auth"
	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/services"
)

const maxListingBodySize = 16 * 1024

// ListingHandlers exposes the public listing read and the seller-scoped
// listing mutations.
type ListingHandlers struct {
	authn    *auth.Authenticator
	listings services.ListingService
}

// NewListingHandlers constructs a new ListingHandlers instance.
func NewListingHandlers(authn *auth.Authenticator, listings services.ListingService) *ListingHandlers {
	return &ListingHandlers{
		authn:    authn,
		listings: listings,
	}
}

// Routes registers the /listings endpoints. The single-listing read stays
// public; everything else requires authentication.
func (h *ListingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{listingID}", h.getListing)

	group := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.createListing)
	group.Patch("/{listingID}", h.updateListing)
	group.Post("/{listingID}:restock", h.restock)
}

type createListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Quantity    int    `json:"quantity"`
}

type updateListingRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int64  `json:"price"`
	Status      *string `json:"status"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type listingResponse struct {
	Listing listingPayload `json:"listing"`
}

type listingPayload struct {
	ID          string `json:"id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Quantity    int    `json:"quantity"`
	Sold        int    `json:"sold"`
	Reserved    int    `json:"reserved"`
	Available   int    `json:"available"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func (h *ListingHandlers) getListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.listings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("listing_service_unavailable", "listing service unavailable", http.StatusServiceUnavailable))
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	listing, err := h.listings.GetListing(ctx, listingID)
	if err != nil {
		writeListingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, listingResponse{Listing: buildListingPayload(listing)})
}

func (h *ListingHandlers) createListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID, ok := h.requireSeller(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxListingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createListingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	listing, err := h.listings.CreateListing(ctx, services.CreateListingCommand{
		SellerID:    sellerID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeListingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, listingResponse{Listing: buildListingPayload(listing)})
}

func (h *ListingHandlers) updateListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID, ok := h.requireSeller(ctx, w)
	if !ok {
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxListingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateListingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateListingCommand{
		ListingID:    listingID,
		ActingUserID: sellerID,
		Title:        req.Title,
		Description:  req.Description,
	}
	if req.Price != nil {
		price := domain.Money(*req.Price)
		cmd.Price = &price
	}
	if req.Status != nil {
		status := domain.ListingStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}

	listing, err := h.listings.UpdateListing(ctx, cmd)
	if err != nil {
		writeListingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, listingResponse{Listing: buildListingPayload(listing)})
}

func (h *ListingHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID, ok := h.requireSeller(ctx, w)
	if !ok {
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxListingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req restockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must not be negative", http.StatusBadRequest))
		return
	}

	listing, err := h.listings.Restock(ctx, services.RestockCommand{
		ListingID:    listingID,
		ActingUserID: sellerID,
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeListingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, listingResponse{Listing: buildListingPayload(listing)})
}

func (h *ListingHandlers) requireSeller(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.listings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("listing_service_unavailable", "listing service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func writeListingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrListingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrListingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("listing_not_found", "listing not found", http.StatusNotFound))
	case errors.Is(err, services.ErrListingForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("listing_forbidden", "listing belongs to another seller", http.StatusForbidden))
	case errors.Is(err, services.ErrListingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("listing_service_unavailable", "listing service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("listing_error", "failed to process listing request", http.StatusInternalServerError))
	}
}

func buildListingPayload(listing services.Listing) listingPayload {
	payload := listingPayload{
		ID:          strings.TrimSpace(listing.ID),
		SellerID:    strings.TrimSpace(listing.SellerID),
		Title:       strings.TrimSpace(listing.Title),
		Description: strings.TrimSpace(listing.Description),
		Price:       listing.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(listing.Currency)),
		Quantity:    listing.Quantity,
		Sold:        listing.QuantitySold,
		Reserved:    listing.QuantityReserved,
		Available:   listing.AvailableQuantity(),
		Status:      string(listing.Status),
	}
	if !listing.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(listing.CreatedAt)
	}
	if !listing.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(listing.UpdatedAt)
	}
	return payload
}
