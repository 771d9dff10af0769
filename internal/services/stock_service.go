package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sahel-market/api/internal/repositories"
)

const (
	eventStockReserve        = "stock.reserve"
	eventStockReserveDenied  = "stock.reserve_denied"
	eventStockRelease        = "stock.release"
	eventStockReleaseSold    = "stock.release_sold"
	eventStockRestock        = "stock.restock"
	eventStockExhausted      = "stock.exhausted"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockListingNotFound indicates the listing does not exist.
	ErrStockListingNotFound = errors.New("stock: listing not found")
	// ErrStockListingInactive indicates the listing status forbids the operation.
	ErrStockListingInactive = errors.New("stock: listing inactive")
	// ErrStockForbidden indicates the acting user does not own the listing.
	ErrStockForbidden = errors.New("stock: forbidden")
	// ErrStockUnavailable indicates the stock ledger backend failed.
	ErrStockUnavailable = errors.New("stock: unavailable")
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Listings repositories.ListingRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	repo   repositories.ListingRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Listings == nil {
		return nil, errors.New("stock service: listing repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		repo: deps.Listings,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *stockService) GetListing(ctx context.Context, listingID string) (Listing, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, ErrStockInvalidInput
	}
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	return listing, nil
}

// Reserve attempts a soft hold. A denied hold is a normal outcome: the
// result carries Reserved=false and the availability the buyer lost to.
func (s *stockService) Reserve(ctx context.Context, cmd StockReserveCommand) (StockReserveOutcome, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" || cmd.Quantity <= 0 {
		return StockReserveOutcome{}, ErrStockInvalidInput
	}

	result, err := s.repo.Reserve(ctx, repositories.StockReserveRequest{
		ListingID: listingID,
		Quantity:  cmd.Quantity,
		Now:       s.clock(),
	})
	if err != nil {
		return StockReserveOutcome{}, s.mapRepositoryError(err)
	}

	outcome := StockReserveOutcome{
		Reserved:  result.Reserved,
		Listing:   result.Listing,
		Available: result.Listing.AvailableQuantity(),
	}
	event := eventStockReserve
	if !result.Reserved {
		event = eventStockReserveDenied
	}
	s.logger(ctx, event, map[string]any{
		"listingId": listingID,
		"qty":       cmd.Quantity,
		"available": outcome.Available,
	})
	if result.Reserved && outcome.Available == 0 {
		s.logger(ctx, eventStockExhausted, map[string]any{"listingId": listingID})
	}
	return outcome, nil
}

func (s *stockService) ReleaseReservation(ctx context.Context, cmd StockReleaseCommand) (Listing, error) {
	return s.release(ctx, eventStockRelease, cmd, s.repo.ReleaseReservation)
}

func (s *stockService) ReleaseSold(ctx context.Context, cmd StockReleaseCommand) (Listing, error) {
	return s.release(ctx, eventStockReleaseSold, cmd, s.repo.ReleaseSold)
}

func (s *stockService) release(ctx context.Context, event string, cmd StockReleaseCommand, op func(context.Context, repositories.StockReleaseRequest) (Listing, error)) (Listing, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" || cmd.Quantity <= 0 {
		return Listing{}, ErrStockInvalidInput
	}

	listing, err := op(ctx, repositories.StockReleaseRequest{
		ListingID: listingID,
		Quantity:  cmd.Quantity,
		Reason:    strings.TrimSpace(cmd.Reason),
		Now:       s.clock(),
	})
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, event, map[string]any{
		"listingId": listingID,
		"qty":       cmd.Quantity,
		"reason":    strings.TrimSpace(cmd.Reason),
		"available": listing.AvailableQuantity(),
	})
	return listing, nil
}

// Restock replaces the total quantity after checking the acting user owns the
// listing. Calling it twice with the same quantity is a no-op.
func (s *stockService) Restock(ctx context.Context, cmd RestockCommand) (Listing, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" || cmd.Quantity < 0 {
		return Listing{}, ErrStockInvalidInput
	}

	if actor := strings.TrimSpace(cmd.ActingUserID); actor != "" {
		current, err := s.repo.FindByID(ctx, listingID)
		if err != nil {
			return Listing{}, s.mapRepositoryError(err)
		}
		if current.SellerID != actor {
			return Listing{}, ErrStockForbidden
		}
	}

	listing, err := s.repo.Restock(ctx, repositories.StockRestockRequest{
		ListingID:     listingID,
		TotalQuantity: cmd.Quantity,
		Now:           s.clock(),
	})
	if err != nil {
		return Listing{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, eventStockRestock, map[string]any{
		"listingId": listingID,
		"quantity":  cmd.Quantity,
		"available": listing.AvailableQuantity(),
	})
	return listing, nil
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorListingNotFound:
			return ErrStockListingNotFound
		case repositories.StockErrorInvalidQuantity:
			return ErrStockInvalidInput
		case repositories.StockErrorListingInactive:
			return ErrStockListingInactive
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrStockListingNotFound
		}
	}
	return ErrStockUnavailable
}
