package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/repositories"
)

type stubOrderRepository struct {
	orders    map[string]domain.Order
	updateErr error
	updated   []domain.Order
	page      domain.CursorPage[domain.Order]
	listErr   error
	filters   []repositories.OrderListFilter
}

func (s *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if s.orders == nil {
		s.orders = map[string]domain.Order{}
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) Update(_ context.Context, order domain.Order) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, order)
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, &fakeRepoError{msg: "order not found", notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	s.filters = append(s.filters, filter)
	if s.listErr != nil {
		return domain.CursorPage[domain.Order]{}, s.listErr
	}
	return s.page, nil
}

type orderFixture struct {
	orders        *stubOrderRepository
	stock         *stubStockService
	notifications *stubNotificationDispatcher
	svc           OrderService
}

func newOrderFixture(t *testing.T, orders ...domain.Order) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:        &stubOrderRepository{orders: map[string]domain.Order{}},
		stock:         &stubStockService{listings: map[string]domain.Listing{}},
		notifications: &stubNotificationDispatcher{},
	}
	for _, order := range orders {
		f.orders.orders[order.ID] = order
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        f.orders,
		Stock:         f.stock,
		Notifications: f.notifications,
		Clock:         func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc = svc
	return f
}

func testOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:          "ord-1",
		OrderNumber: "SM-2024-000042",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		Currency:    "XOF",
		Status:      status,
		Items: []domain.OrderItem{
			{ID: "txn-1", ListingID: "listing-1", SellerID: "seller-1", Quantity: 2, UnitPrice: 10_000},
		},
	}
}

func TestOrderServiceGetOrderMasksNonParticipants(t *testing.T) {
	f := newOrderFixture(t, testOrder(domain.OrderStatusConfirmed))

	if _, err := f.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord-1", ActingUserID: "stranger"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	order, err := f.svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord-1", ActingUserID: "buyer-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.OrderNumber != "SM-2024-000042" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestOrderServiceListOrdersRequiresParty(t *testing.T) {
	f := newOrderFixture(t)

	if _, err := f.svc.ListOrders(context.Background(), OrderListFilter{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.ListOrders(context.Background(), OrderListFilter{SellerID: "seller-1", Status: []OrderStatus{domain.OrderStatusShipped}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.orders.filters[0].Status; len(got) != 1 || got[0] != "shipped" {
		t.Fatalf("unexpected status filter %v", got)
	}
}

func TestOrderServiceTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.OrderStatus
		target  domain.OrderStatus
		actor   string
		wantErr error
	}{
		{name: "seller readies a confirmed order", from: domain.OrderStatusConfirmed, target: domain.OrderStatusReadyToShip, actor: "seller-1"},
		{name: "seller ships a readied order", from: domain.OrderStatusReadyToShip, target: domain.OrderStatusShipped, actor: "seller-1"},
		{name: "buyer acknowledges delivery", from: domain.OrderStatusShipped, target: domain.OrderStatusDelivered, actor: "buyer-1"},
		{name: "buyer returns a shipped order", from: domain.OrderStatusShipped, target: domain.OrderStatusReturned, actor: "buyer-1"},
		{name: "skipping ready_to_ship is illegal", from: domain.OrderStatusConfirmed, target: domain.OrderStatusShipped, actor: "seller-1", wantErr: ErrOrderInvalidTransition},
		{name: "delivered is terminal", from: domain.OrderStatusDelivered, target: domain.OrderStatusReturned, actor: "buyer-1", wantErr: ErrOrderInvalidTransition},
		{name: "buyer cannot ship", from: domain.OrderStatusReadyToShip, target: domain.OrderStatusShipped, actor: "buyer-1", wantErr: ErrOrderForbidden},
		{name: "seller cannot acknowledge delivery", from: domain.OrderStatusShipped, target: domain.OrderStatusDelivered, actor: "seller-1", wantErr: ErrOrderForbidden},
		{name: "stranger is masked", from: domain.OrderStatusConfirmed, target: domain.OrderStatusReadyToShip, actor: "stranger", wantErr: ErrOrderForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture(t, testOrder(tc.from))

			order, err := f.svc.TransitionStatus(context.Background(), OrderTransitionCommand{
				OrderID:      "ord-1",
				ActingUserID: tc.actor,
				Target:       tc.target,
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if len(f.orders.updated) != 0 {
					t.Fatalf("rejected transitions must not persist")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.Status != tc.target {
				t.Fatalf("expected status %s, got %s", tc.target, order.Status)
			}
			if len(f.notifications.dispatched) != 1 {
				t.Fatalf("expected the counterparty to be notified")
			}
			n := f.notifications.dispatched[0]
			if n.Type != domain.NotificationOrderStatusChanged {
				t.Fatalf("unexpected notification type %s", n.Type)
			}
			want := "seller-1"
			if tc.actor == "seller-1" {
				want = "buyer-1"
			}
			if n.RecipientID != want {
				t.Fatalf("expected recipient %s, got %s", want, n.RecipientID)
			}
		})
	}
}

func TestOrderServiceConfirmChecksListingStock(t *testing.T) {
	f := newOrderFixture(t, testOrder(domain.OrderStatusPending))
	// Two units were sold but the listing ledger carries only one.
	f.stock.listings["listing-1"] = domain.Listing{ID: "listing-1", Quantity: 5, QuantitySold: 1}

	_, err := f.svc.TransitionStatus(context.Background(), OrderTransitionCommand{
		OrderID: "ord-1", ActingUserID: "seller-1", Target: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	f.stock.listings["listing-1"] = domain.Listing{ID: "listing-1", Quantity: 5, QuantitySold: 2}
	order, err := f.svc.TransitionStatus(context.Background(), OrderTransitionCommand{
		OrderID: "ord-1", ActingUserID: "seller-1", Target: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
}

func TestOrderServiceCancelRestocksSoldUnits(t *testing.T) {
	f := newOrderFixture(t, testOrder(domain.OrderStatusConfirmed))

	order, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord-1", ActingUserID: "buyer-1", Reason: "changed my mind",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.Note != "changed my mind" {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(f.stock.soldCalls) != 1 {
		t.Fatalf("expected one restock, got %d", len(f.stock.soldCalls))
	}
	release := f.stock.soldCalls[0]
	if release.ListingID != "listing-1" || release.Quantity != 2 {
		t.Fatalf("unexpected release %+v", release)
	}
	if !strings.Contains(release.Reason, "SM-2024-000042") {
		t.Fatalf("expected the order number in the release reason, got %q", release.Reason)
	}
	if len(f.notifications.dispatched) != 1 || f.notifications.dispatched[0].RecipientID != "seller-1" {
		t.Fatalf("expected the seller to be notified, got %+v", f.notifications.dispatched)
	}
}

func TestOrderServiceBuyerCannotCancelAfterFulfilmentStarts(t *testing.T) {
	f := newOrderFixture(t, testOrder(domain.OrderStatusReadyToShip))

	_, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord-1", ActingUserID: "buyer-1"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(f.stock.soldCalls) != 0 {
		t.Fatalf("a rejected cancel must not restock")
	}

	// The seller can still pull the order back before shipment.
	order, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord-1", ActingUserID: "seller-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
}

func TestOrderServiceCancelRestockFailureDoesNotUndoCancel(t *testing.T) {
	f := newOrderFixture(t, testOrder(domain.OrderStatusConfirmed))
	f.stock.releaseSoldErr = errors.New("listing store down")

	order, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord-1", ActingUserID: "seller-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
}
