package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sahel-market/api/internal/domain"
	pfirestore "github.com/sahel-market/api/internal/platform/firestore"
	"github.com/sahel-market/api/internal/repositories"
)

const listingsCollection = "listings"

// ListingRepository persists seller listings and owns every stock counter
// mutation. Each ledger operation (Reserve, ReleaseReservation, ReleaseSold,
// Restock) is a single Firestore transaction so concurrent checkouts cannot
// interleave a read-modify-write on the same listing.
type ListingRepository struct {
	provider *pfirestore.Provider
	listings *pfirestore.BaseRepository[listingDocument]
}

func NewListingRepository(provider *pfirestore.Provider) (*ListingRepository, error) {
	if provider == nil {
		return nil, errors.New("listing repository requires firestore provider")
	}
	listings := pfirestore.NewBaseRepository[listingDocument](provider, listingsCollection, nil, nil)
	return &ListingRepository{provider: provider, listings: listings}, nil
}

func (r *ListingRepository) Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	if r == nil || r.listings == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID := strings.TrimSpace(listing.ID)
	if listingID == "" {
		return domain.Listing{}, errors.New("listing insert: id is required")
	}
	doc := newListingDocument(listing)
	doc.recalculate()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Listing{}, wrapStockError("listings.insert", err)
	}
	if _, err := client.Collection(listingsCollection).Doc(listingID).Create(ctx, doc); err != nil {
		return domain.Listing{}, wrapStockError("listings.insert", err)
	}
	return doc.toDomain(listingID), nil
}

func (r *ListingRepository) Update(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	if r == nil || r.listings == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID := strings.TrimSpace(listing.ID)
	if listingID == "" {
		return domain.Listing{}, errors.New("listing update: id is required")
	}
	doc := newListingDocument(listing)
	doc.recalculate()
	if _, err := r.listings.Set(ctx, listingID, doc); err != nil {
		return domain.Listing{}, wrapStockError("listings.update", err)
	}
	return doc.toDomain(listingID), nil
}

func (r *ListingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	if r == nil || r.listings == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return domain.Listing{}, errors.New("listing find: id is required")
	}
	doc, err := r.listings.Get(ctx, listingID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Listing{}, repositories.NewStockError(repositories.StockErrorListingNotFound, fmt.Sprintf("listing %s not found", listingID), err)
		}
		return domain.Listing{}, wrapStockError("listings.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ListingRepository) FindByIDs(ctx context.Context, listingIDs []string) (map[string]domain.Listing, error) {
	if r == nil || r.listings == nil {
		return nil, errors.New("listing repository not initialised")
	}
	found := make(map[string]domain.Listing, len(listingIDs))
	if len(listingIDs) == 0 {
		return found, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapStockError("listings.findByIds", err)
	}
	refs := make([]*firestore.DocumentRef, 0, len(listingIDs))
	for _, id := range listingIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		refs = append(refs, client.Collection(listingsCollection).Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, wrapStockError("listings.findByIds", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc listingDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode listing %s: %w", snap.Ref.ID, err)
		}
		found[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return found, nil
}

// Reserve takes a soft hold of req.Quantity units. Insufficient availability
// is reported through Reserved=false with the listing's current state, so
// checkout can tell the buyer what is left without treating it as a failure.
func (r *ListingRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReserveResult{}, errors.New("listing repository not initialised")
	}
	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorListingNotFound, "stock reserve: listing id is required", nil)
	}
	if req.Quantity <= 0 {
		return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock reserve: quantity for %s must be > 0", listingID), nil)
	}

	now := req.Now.UTC()
	var result repositories.StockReserveResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.listings.DocumentRef(ctx, listingID)
		if err != nil {
			return err
		}
		doc, err := getListingTx(tx, ref, listingID)
		if err != nil {
			return err
		}
		if domain.ListingStatus(doc.Status) != domain.ListingStatusActive {
			return repositories.NewStockError(repositories.StockErrorListingInactive, fmt.Sprintf("listing %s is %s", listingID, doc.Status), nil)
		}
		if doc.Available < req.Quantity {
			result = repositories.StockReserveResult{Reserved: false, Listing: doc.toDomain(listingID)}
			return nil
		}
		doc.Reserved += req.Quantity
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = repositories.StockReserveResult{Reserved: true, Listing: doc.toDomain(listingID)}
		return nil
	})
	if err != nil {
		return repositories.StockReserveResult{}, wrapStockError("listings.reserve", err)
	}
	return result, nil
}

// ReleaseReservation returns a soft hold to availability after a failed or
// canceled payment. The reserved counter is clamped at zero so a duplicate
// failure event cannot drive it negative.
func (r *ListingRepository) ReleaseReservation(ctx context.Context, req repositories.StockReleaseRequest) (domain.Listing, error) {
	return r.release(ctx, "listings.releaseReservation", req, func(doc *listingDocument, qty int) {
		doc.Reserved -= qty
		if doc.Reserved < 0 {
			doc.Reserved = 0
		}
	})
}

// ReleaseSold reverses a completed sale when an order is cancelled. Sold
// units return to availability; the reservation counter is untouched.
func (r *ListingRepository) ReleaseSold(ctx context.Context, req repositories.StockReleaseRequest) (domain.Listing, error) {
	return r.release(ctx, "listings.releaseSold", req, func(doc *listingDocument, qty int) {
		doc.Sold -= qty
		if doc.Sold < 0 {
			doc.Sold = 0
		}
	})
}

func (r *ListingRepository) release(ctx context.Context, op string, req repositories.StockReleaseRequest, apply func(*listingDocument, int)) (domain.Listing, error) {
	if r == nil || r.provider == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		return domain.Listing{}, repositories.NewStockError(repositories.StockErrorListingNotFound, "stock release: listing id is required", nil)
	}
	if req.Quantity <= 0 {
		return domain.Listing{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock release: quantity for %s must be > 0", listingID), nil)
	}

	now := req.Now.UTC()
	var released domain.Listing
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.listings.DocumentRef(ctx, listingID)
		if err != nil {
			return err
		}
		doc, err := getListingTx(tx, ref, listingID)
		if err != nil {
			return err
		}
		apply(&doc, req.Quantity)
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		released = doc.toDomain(listingID)
		return nil
	})
	if err != nil {
		return domain.Listing{}, wrapStockError(op, err)
	}
	return released, nil
}

// Restock replaces the listing's total quantity. Sold and reserved counters
// survive the restock; availability and status are re-derived from the new
// total. Repeating the call with the same target quantity is a no-op.
func (r *ListingRepository) Restock(ctx context.Context, req repositories.StockRestockRequest) (domain.Listing, error) {
	if r == nil || r.provider == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		return domain.Listing{}, repositories.NewStockError(repositories.StockErrorListingNotFound, "stock restock: listing id is required", nil)
	}
	if req.TotalQuantity < 0 {
		return domain.Listing{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock restock: quantity for %s must be >= 0", listingID), nil)
	}

	now := req.Now.UTC()
	var restocked domain.Listing
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.listings.DocumentRef(ctx, listingID)
		if err != nil {
			return err
		}
		doc, err := getListingTx(tx, ref, listingID)
		if err != nil {
			return err
		}
		doc.Quantity = req.TotalQuantity
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		restocked = doc.toDomain(listingID)
		return nil
	})
	if err != nil {
		return domain.Listing{}, wrapStockError("listings.restock", err)
	}
	return restocked, nil
}

func getListingTx(tx *firestore.Transaction, ref *firestore.DocumentRef, listingID string) (listingDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return listingDocument{}, repositories.NewStockError(repositories.StockErrorListingNotFound, fmt.Sprintf("listing %s not found", listingID), err)
		}
		return listingDocument{}, err
	}
	var doc listingDocument
	if err := snap.DataTo(&doc); err != nil {
		return listingDocument{}, fmt.Errorf("decode listing %s: %w", listingID, err)
	}
	return doc, nil
}

// Helper structures ---------------------------------------------------------

type listingDocument struct {
	SellerID    string    `firestore:"sellerId"`
	Title       string    `firestore:"title"`
	Description string    `firestore:"description,omitempty"`
	Price       int64     `firestore:"price"`
	Currency    string    `firestore:"currency"`
	Quantity    int       `firestore:"quantity"`
	Sold        int       `firestore:"quantitySold"`
	Reserved    int       `firestore:"quantityReserved"`
	Available   int       `firestore:"available"`
	Status      string    `firestore:"status"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// recalculate re-derives availability and flips status between active and
// out_of_stock. Terminal states (sold, expired) are never overwritten.
func (d *listingDocument) recalculate() {
	d.Available = d.Quantity - d.Sold - d.Reserved
	if d.Available < 0 {
		d.Available = 0
	}
	switch domain.ListingStatus(d.Status) {
	case domain.ListingStatusActive:
		if d.Available == 0 {
			d.Status = string(domain.ListingStatusOutOfStock)
		}
	case domain.ListingStatusOutOfStock:
		if d.Available > 0 {
			d.Status = string(domain.ListingStatusActive)
		}
	}
}

func newListingDocument(listing domain.Listing) listingDocument {
	status := listing.Status
	if status == "" {
		status = domain.ListingStatusActive
	}
	return listingDocument{
		SellerID:    strings.TrimSpace(listing.SellerID),
		Title:       strings.TrimSpace(listing.Title),
		Description: strings.TrimSpace(listing.Description),
		Price:       listing.Price,
		Currency:    domain.NormalizeCurrency(listing.Currency),
		Quantity:    listing.Quantity,
		Sold:        listing.QuantitySold,
		Reserved:    listing.QuantityReserved,
		Status:      string(status),
		CreatedAt:   listing.CreatedAt.UTC(),
		UpdatedAt:   listing.UpdatedAt.UTC(),
	}
}

func (d listingDocument) toDomain(id string) domain.Listing {
	return domain.Listing{
		ID:               id,
		SellerID:         strings.TrimSpace(d.SellerID),
		Title:            d.Title,
		Description:      d.Description,
		Price:            d.Price,
		Currency:         d.Currency,
		Quantity:         d.Quantity,
		QuantitySold:     d.Sold,
		QuantityReserved: d.Reserved,
		Status:           domain.ListingStatus(d.Status),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
