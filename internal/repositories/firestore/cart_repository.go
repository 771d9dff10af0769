package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sahel-market/api/internal/domain"
	pfirestore "github.com/sahel-market/api/internal/platform/firestore"
	"github.com/sahel-market/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore. The document is keyed by
// the buyer ID, which is what enforces the one-live-cart-per-buyer rule, and
// the line items are embedded so a cart write is always a single document
// mutation.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart persists the cart document using the buyer ID as document
// identifier. When expectedUpdate is supplied the write carries a
// LastUpdateTime precondition, so a concurrent mutation surfaces as a
// conflict instead of a lost update.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(firstCartID(cart))
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		Currency:   domain.NormalizeCurrency(cart.Currency),
		Items:      newCartItemDocuments(cart.Items),
		Metadata:   cloneAnyMap(cart.Metadata),
		ItemsCount: len(cart.Items),
		UpdatedAt:  now,
		CreatedAt:  createdAt,
	}

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, cartID, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		saved := doc.toDomain(cartID)
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "itemsCount", Value: doc.ItemsCount},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}

	result, err := r.base.Update(ctx, cartID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(cartID)
	saved.CreatedAt = cart.CreatedAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given buyer ID.
func (r *CartRepository) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	buyer := strings.TrimSpace(buyerID)
	if buyer == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	doc, err := r.base.Get(ctx, buyer)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := doc.Data.toDomain(doc.ID)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = doc.UpdateTime
	}
	return cart, nil
}

// ReplaceItems swaps the cart's line items in one transactional read-modify-
// write. An empty slice clears the cart while keeping the document, which is
// how the post-payment clear works.
func (r *CartRepository) ReplaceItems(ctx context.Context, buyerID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	buyer := strings.TrimSpace(buyerID)
	if buyer == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	now := time.Now().UTC()
	var replaced domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, buyer)
		if err != nil {
			return err
		}
		var doc cartDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			doc = cartDocument{CreatedAt: now}
		default:
			return err
		}
		doc.Items = newCartItemDocuments(items)
		doc.ItemsCount = len(doc.Items)
		doc.UpdatedAt = now
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		replaced = doc.toDomain(buyer)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.replaceItems", err)
	}
	return replaced, nil
}

func firstCartID(cart domain.Cart) string {
	if strings.TrimSpace(cart.BuyerID) != "" {
		return strings.TrimSpace(cart.BuyerID)
	}
	return strings.TrimSpace(cart.ID)
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

type cartDocument struct {
	Currency   string             `firestore:"currency"`
	Items      []cartItemDocument `firestore:"items"`
	Metadata   map[string]any     `firestore:"metadata,omitempty"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID        string     `firestore:"id"`
	ListingID string     `firestore:"listingId"`
	SellerID  string     `firestore:"sellerId"`
	Quantity  int        `firestore:"qty"`
	UnitPrice int64      `firestore:"unitPrice"`
	Currency  string     `firestore:"currency"`
	Title     string     `firestore:"title,omitempty"`
	AddedAt   time.Time  `firestore:"addedAt"`
	UpdatedAt *time.Time `firestore:"updatedAt,omitempty"`
}

func newCartItemDocuments(items []domain.CartItem) []cartItemDocument {
	docs := make([]cartItemDocument, len(items))
	for i, item := range items {
		docs[i] = cartItemDocument{
			ID:        strings.TrimSpace(item.ID),
			ListingID: strings.TrimSpace(item.ListingID),
			SellerID:  strings.TrimSpace(item.SellerID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  domain.NormalizeCurrency(item.Currency),
			Title:     strings.TrimSpace(item.Title),
			AddedAt:   item.AddedAt.UTC(),
			UpdatedAt: item.UpdatedAt,
		}
	}
	return docs
}

func (d cartDocument) toDomain(buyerID string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ID:        item.ID,
			ListingID: item.ListingID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  item.Currency,
			Title:     item.Title,
			AddedAt:   item.AddedAt,
			UpdatedAt: item.UpdatedAt,
		}
	}
	return domain.Cart{
		ID:        buyerID,
		BuyerID:   buyerID,
		Currency:  d.Currency,
		Items:     items,
		Metadata:  cloneAnyMap(d.Metadata),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
