package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/services"
)

type fakeListingService struct {
	listing     services.Listing
	err         error
	createCmds  []services.CreateListingCommand
	updateCmds  []services.UpdateListingCommand
	restockCmds []services.RestockCommand
}

func (f *fakeListingService) CreateListing(_ context.Context, cmd services.CreateListingCommand) (services.Listing, error) {
	f.createCmds = append(f.createCmds, cmd)
	if f.err != nil {
		return services.Listing{}, f.err
	}
	return f.listing, nil
}

func (f *fakeListingService) GetListing(_ context.Context, listingID string) (services.Listing, error) {
	if f.err != nil {
		return services.Listing{}, f.err
	}
	return f.listing, nil
}

func (f *fakeListingService) UpdateListing(_ context.Context, cmd services.UpdateListingCommand) (services.Listing, error) {
	f.updateCmds = append(f.updateCmds, cmd)
	if f.err != nil {
		return services.Listing{}, f.err
	}
	return f.listing, nil
}

func (f *fakeListingService) Restock(_ context.Context, cmd services.RestockCommand) (services.Listing, error) {
	f.restockCmds = append(f.restockCmds, cmd)
	if f.err != nil {
		return services.Listing{}, f.err
	}
	return f.listing, nil
}

func newListingRouter(listings services.ListingService) http.Handler {
	r := chi.NewRouter()
	r.Route("/listings", NewListingHandlers(nil, listings).Routes)
	return r
}

func TestListingHandlersGetListingIsPublic(t *testing.T) {
	listings := &fakeListingService{listing: services.Listing{
		ID: "listing-1", SellerID: "seller-1", Title: "Wax print fabric",
		Price: 50_000, Currency: "xof", Quantity: 5, QuantitySold: 1, QuantityReserved: 1,
		Status: domain.ListingStatusActive, CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}}
	router := newListingRouter(listings)

	// No identity on the request: the read must still succeed.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/listings/listing-1", nil, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	listing, _ := body["listing"].(map[string]any)
	if listing["available"] != float64(3) {
		t.Fatalf("expected derived availability 3, got %v", listing["available"])
	}
	if listing["currency"] != "XOF" {
		t.Fatalf("expected normalized currency, got %v", listing["currency"])
	}
}

func TestListingHandlersGetListingNotFound(t *testing.T) {
	router := newListingRouter(&fakeListingService{err: services.ErrListingNotFound})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/listings/missing", nil, ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListingHandlersCreateListing(t *testing.T) {
	listings := &fakeListingService{listing: services.Listing{ID: "listing-1", SellerID: "seller-1", Title: "Bogolan throw", Price: 75_000, Currency: "XOF", Quantity: 4, Status: domain.ListingStatusActive}}
	router := newListingRouter(listings)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/listings",
		[]byte(`{"title":"Bogolan throw","price":75000,"currency":"xof","quantity":4}`), "seller-1"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(listings.createCmds) != 1 {
		t.Fatalf("expected one create, got %d", len(listings.createCmds))
	}
	cmd := listings.createCmds[0]
	if cmd.SellerID != "seller-1" || cmd.Currency != "XOF" || cmd.Quantity != 4 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestListingHandlersCreateListingRequiresAuth(t *testing.T) {
	router := newListingRouter(&fakeListingService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/listings",
		[]byte(`{"title":"x","price":100,"quantity":1}`), ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListingHandlersUpdateListingNormalizesStatus(t *testing.T) {
	listings := &fakeListingService{listing: services.Listing{ID: "listing-1"}}
	router := newListingRouter(listings)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/listings/listing-1",
		[]byte(`{"status":" Expired "}`), "seller-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cmd := listings.updateCmds[0]
	if cmd.Status == nil || *cmd.Status != domain.ListingStatusExpired {
		t.Fatalf("expected a lower-cased status, got %+v", cmd.Status)
	}
}

func TestListingHandlersUpdateForeignListingForbidden(t *testing.T) {
	router := newListingRouter(&fakeListingService{err: services.ErrListingForbidden})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/listings/listing-1",
		[]byte(`{"title":"New"}`), "seller-2"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestListingHandlersRestock(t *testing.T) {
	listings := &fakeListingService{listing: services.Listing{ID: "listing-1", Quantity: 10}}
	router := newListingRouter(listings)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/listings/listing-1:restock",
		[]byte(`{"quantity":10}`), "seller-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cmd := listings.restockCmds[0]
	if cmd.ListingID != "listing-1" || cmd.ActingUserID != "seller-1" || cmd.Quantity != 10 {
		t.Fatalf("unexpected command %+v", cmd)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/listings/listing-1:restock",
		[]byte(`{"quantity":-1}`), "seller-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative quantity, got %d", rec.Code)
	}
}
