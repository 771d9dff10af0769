package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/sahel-market/api/internal/domain"
	pfirestore "github.com/sahel-market/api/internal/platform/firestore"
	"github.com/sahel-market/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order headers. Orders created by reconciliation
// are written through the ledger's atomic scope; this repository covers the
// read surface and the fulfilment status updates that follow.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order insert: id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	if _, err := client.Collection(ordersCollection).Doc(orderID).Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order update: id is required")
	}
	if _, err := r.orders.Set(ctx, orderID, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
		query = query.Where("buyerId", "==", buyerID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerId", "==", sellerID)
	}
	if orderNumber := strings.TrimSpace(filter.OrderNumber); orderNumber != "" {
		query = query.Where("orderNumber", "==", orderNumber)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", filter.Status)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeLedgerPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber string              `firestore:"orderNumber"`
	BuyerID     string              `firestore:"buyerId"`
	SellerID    string              `firestore:"sellerId"`
	Items       []orderItemDocument `firestore:"items"`
	Currency    string              `firestore:"currency"`
	TotalPrice  int64               `firestore:"totalPrice"`
	Status      string              `firestore:"status"`
	Shipping    *shippingDocument   `firestore:"shipping,omitempty"`
	Repair      bool                `firestore:"repair,omitempty"`
	Note        string              `firestore:"note,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ID        string `firestore:"id"`
	ListingID string `firestore:"listingId"`
	SellerID  string `firestore:"sellerId"`
	Title     string `firestore:"title"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type shippingDocument struct {
	RecipientName string `firestore:"recipientName"`
	Phone         string `firestore:"phone"`
	Line1         string `firestore:"line1"`
	Line2         string `firestore:"line2,omitempty"`
	City          string `firestore:"city"`
	Country       string `firestore:"country"`
	Note          string `firestore:"note,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ID:        strings.TrimSpace(item.ID),
			ListingID: strings.TrimSpace(item.ListingID),
			SellerID:  strings.TrimSpace(item.SellerID),
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	var shipping *shippingDocument
	if order.Shipping != nil {
		shipping = &shippingDocument{
			RecipientName: strings.TrimSpace(order.Shipping.RecipientName),
			Phone:         strings.TrimSpace(order.Shipping.Phone),
			Line1:         strings.TrimSpace(order.Shipping.Line1),
			Line2:         strings.TrimSpace(order.Shipping.Line2),
			City:          strings.TrimSpace(order.Shipping.City),
			Country:       strings.TrimSpace(order.Shipping.Country),
			Note:          strings.TrimSpace(order.Shipping.Note),
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		BuyerID:     strings.TrimSpace(order.BuyerID),
		SellerID:    strings.TrimSpace(order.SellerID),
		Items:       items,
		Currency:    domain.NormalizeCurrency(order.Currency),
		TotalPrice:  order.TotalPrice,
		Status:      string(order.Status),
		Shipping:    shipping,
		Repair:      order.Repair,
		Note:        strings.TrimSpace(order.Note),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ID:        item.ID,
			ListingID: item.ListingID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	var shipping *domain.ShippingDetails
	if d.Shipping != nil {
		shipping = &domain.ShippingDetails{
			RecipientName: d.Shipping.RecipientName,
			Phone:         d.Shipping.Phone,
			Line1:         d.Shipping.Line1,
			Line2:         d.Shipping.Line2,
			City:          d.Shipping.City,
			Country:       d.Shipping.Country,
			Note:          d.Shipping.Note,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		BuyerID:     d.BuyerID,
		SellerID:    d.SellerID,
		Items:       items,
		Currency:    d.Currency,
		TotalPrice:  d.TotalPrice,
		Status:      domain.OrderStatus(d.Status),
		Shipping:    shipping,
		Repair:      d.Repair,
		Note:        d.Note,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
