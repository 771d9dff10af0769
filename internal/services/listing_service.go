package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/platform/textutil"
	"github.com/sahel-market/api/internal/repositories"
)

const maxListingTitleLength = 200

var (
	// ErrListingInvalidInput indicates the caller supplied invalid input.
	ErrListingInvalidInput = errors.New("listing service: invalid input")
	// ErrListingNotFound indicates the listing does not exist.
	ErrListingNotFound = errors.New("listing service: not found")
	// ErrListingForbidden indicates the acting user does not own the listing.
	ErrListingForbidden = errors.New("listing service: forbidden")
	// ErrListingUnavailable indicates the listing backend failed.
	ErrListingUnavailable = errors.New("listing service: unavailable")
)

// ListingServiceDeps wires the dependencies for the seller listing surface.
type ListingServiceDeps struct {
	Listings        repositories.ListingRepository
	Stock           StockService
	Clock           func() time.Time
	DefaultCurrency string
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type listingService struct {
	repo     repositories.ListingRepository
	stock    StockService
	now      func() time.Time
	currency string
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewListingService constructs a ListingService enforcing dependency validation.
func NewListingService(deps ListingServiceDeps) (ListingService, error) {
	if deps.Listings == nil {
		return nil, errors.New("listing service: listing repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("listing service: stock service is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("listing service: clock is required")
	}

	currency := domain.NormalizeCurrency(deps.DefaultCurrency)
	if currency == "" {
		currency = "XOF"
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "lst_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &listingService{
		repo:     deps.Listings,
		stock:    deps.Stock,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: currency,
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *listingService) CreateListing(ctx context.Context, cmd CreateListingCommand) (Listing, error) {
	sellerID := strings.TrimSpace(cmd.SellerID)
	title := textutil.StripMarkup(cmd.Title)
	if sellerID == "" || title == "" || len(title) > maxListingTitleLength {
		return Listing{}, ErrListingInvalidInput
	}
	if cmd.Price <= 0 || cmd.Quantity < 0 {
		return Listing{}, ErrListingInvalidInput
	}

	currency := domain.NormalizeCurrency(cmd.Currency)
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	status := domain.ListingStatusActive
	if cmd.Quantity == 0 {
		status = domain.ListingStatusOutOfStock
	}
	listing := Listing{
		ID:          s.newID(),
		SellerID:    sellerID,
		Title:       title,
		Description: textutil.StripMarkup(cmd.Description),
		Price:       cmd.Price,
		Currency:    currency,
		Quantity:    cmd.Quantity,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	saved, err := s.repo.Insert(ctx, listing)
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "listing.created", map[string]any{
		"listingId": saved.ID,
		"sellerId":  sellerID,
		"quantity":  cmd.Quantity,
	})
	return saved, nil
}

func (s *listingService) GetListing(ctx context.Context, listingID string) (Listing, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, ErrListingInvalidInput
	}
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	return listing, nil
}

// UpdateListing edits mutable listing fields on behalf of the owning seller.
// Quantity is deliberately absent: stock changes go through Restock.
func (s *listingService) UpdateListing(ctx context.Context, cmd UpdateListingCommand) (Listing, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	actor := strings.TrimSpace(cmd.ActingUserID)
	if listingID == "" || actor == "" {
		return Listing{}, ErrListingInvalidInput
	}

	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	if listing.SellerID != actor {
		return Listing{}, ErrListingForbidden
	}

	if cmd.Title != nil {
		title := textutil.StripMarkup(*cmd.Title)
		if title == "" || len(title) > maxListingTitleLength {
			return Listing{}, ErrListingInvalidInput
		}
		listing.Title = title
	}
	if cmd.Description != nil {
		listing.Description = textutil.StripMarkup(*cmd.Description)
	}
	if cmd.Price != nil {
		if *cmd.Price <= 0 {
			return Listing{}, ErrListingInvalidInput
		}
		listing.Price = *cmd.Price
	}
	if cmd.Status != nil {
		switch *cmd.Status {
		case domain.ListingStatusActive, domain.ListingStatusExpired, domain.ListingStatusSold:
			listing.Status = *cmd.Status
		default:
			return Listing{}, ErrListingInvalidInput
		}
	}
	listing.UpdatedAt = s.now()

	saved, err := s.repo.Update(ctx, listing)
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

// Restock delegates to the stock service, which owns the ownership check and
// the atomic quantity swap.
func (s *listingService) Restock(ctx context.Context, cmd RestockCommand) (Listing, error) {
	listing, err := s.stock.Restock(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, ErrStockInvalidInput):
			return Listing{}, ErrListingInvalidInput
		case errors.Is(err, ErrStockListingNotFound):
			return Listing{}, ErrListingNotFound
		case errors.Is(err, ErrStockForbidden):
			return Listing{}, ErrListingForbidden
		default:
			return Listing{}, ErrListingUnavailable
		}
	}
	return listing, nil
}

func (s *listingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if isStockNotFound(err) || isRepoNotFound(err) {
		return ErrListingNotFound
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInvalidQuantity {
		return ErrListingInvalidInput
	}
	return ErrListingUnavailable
}
