package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/repositories"
)

const (
	eventOrderTransition   = "order.transition"
	eventOrderCancelled    = "order.cancelled"
	eventOrderRestocked    = "order.restocked"
	eventOrderRestockError = "order.restock_failed"
	eventOrderNotifyError  = "order.notification_failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the acting user is not allowed to see or
	// mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the requested status change is not
	// in the transition table.
	ErrOrderInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderConflict indicates the order state changed under the caller.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store backend failed.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// orderTransitions is the single authority on which status moves are legal.
// Terminal states map to nothing.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusConfirmed,
		domain.OrderStatusCancelled,
		domain.OrderStatusFailed,
	},
	domain.OrderStatusConfirmed: {
		domain.OrderStatusReadyToShip,
		domain.OrderStatusCancelled,
		domain.OrderStatusReturned,
	},
	domain.OrderStatusReadyToShip: {
		domain.OrderStatusShipped,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusDelivered,
		domain.OrderStatusReturned,
	},
}

// transitionRole gates each target status to the participant allowed to
// request it.
type transitionRole int

const (
	roleSeller transitionRole = iota
	roleBuyer
	roleEither
)

var transitionRoles = map[domain.OrderStatus]transitionRole{
	domain.OrderStatusConfirmed:   roleSeller,
	domain.OrderStatusReadyToShip: roleSeller,
	domain.OrderStatusShipped:     roleSeller,
	domain.OrderStatusFailed:      roleSeller,
	domain.OrderStatusDelivered:   roleBuyer,
	domain.OrderStatusReturned:    roleBuyer,
	domain.OrderStatusCancelled:   roleEither,
}

// canTransition reports whether the table allows from→to.
func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Stock         StockService
	Notifications NotificationDispatcher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	stock         StockService
	notifications NotificationDispatcher
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		stock:         deps.Stock,
		notifications: deps.Notifications,
		clock:         clock,
		logger:        logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.ActingUserID) == "" {
		return Order{}, fmt.Errorf("%w: order id and acting user are required", ErrOrderInvalidInput)
	}

	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !isParticipant(order, cmd.ActingUserID) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.BuyerID == "" && filter.SellerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: a buyer or seller filter is required", ErrOrderInvalidInput)
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:     filter.BuyerID,
		SellerID:    filter.SellerID,
		Status:      statuses,
		OrderNumber: strings.TrimSpace(filter.OrderNumber),
		DateRange:   domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination:  filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.ActingUserID) == "" {
		return Order{}, fmt.Errorf("%w: order id and acting user are required", ErrOrderInvalidInput)
	}
	if cmd.Target == domain.OrderStatusCancelled {
		// Cancellation restocks; it goes through Cancel so the stock release
		// is never skipped.
		return s.Cancel(ctx, CancelOrderCommand{OrderID: cmd.OrderID, ActingUserID: cmd.ActingUserID, Reason: cmd.Note})
	}
	if _, known := transitionRoles[cmd.Target]; !known {
		return Order{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorize(order, cmd.ActingUserID, cmd.Target); err != nil {
		return Order{}, err
	}
	if !canTransition(order.Status, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.Target)
	}
	if cmd.Target == domain.OrderStatusConfirmed {
		if err := s.checkReservation(ctx, order); err != nil {
			return Order{}, err
		}
	}

	previous := order.Status
	order.Status = cmd.Target
	if note := strings.TrimSpace(cmd.Note); note != "" {
		order.Note = note
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventOrderTransition, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"from":        string(previous),
		"to":          string(order.Status),
		"actor":       cmd.ActingUserID,
	})
	s.notifyStatusChange(ctx, order, previous, cmd.ActingUserID)

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.ActingUserID) == "" {
		return Order{}, fmt.Errorf("%w: order id and acting user are required", ErrOrderInvalidInput)
	}

	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorize(order, cmd.ActingUserID, domain.OrderStatusCancelled); err != nil {
		return Order{}, err
	}
	// Buyers may cancel only before fulfilment starts; the seller can pull
	// the order back at any pre-shipment stage.
	if cmd.ActingUserID == order.BuyerID && order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusConfirmed {
		return Order{}, fmt.Errorf("%w: buyers cannot cancel a %s order", ErrOrderInvalidTransition, order.Status)
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		order.Note = reason
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.restock(ctx, order, cmd.ActingUserID)

	s.logger(ctx, eventOrderCancelled, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"from":        string(previous),
		"actor":       cmd.ActingUserID,
	})
	s.notifyStatusChange(ctx, order, previous, cmd.ActingUserID)

	return order, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// authorize checks the actor is a participant and holds the role the target
// status requires.
func (s *orderService) authorize(order domain.Order, actor string, target domain.OrderStatus) error {
	if !isParticipant(order, actor) {
		return ErrOrderForbidden
	}
	switch transitionRoles[target] {
	case roleSeller:
		if actor != order.SellerID {
			return fmt.Errorf("%w: only the seller may mark an order %s", ErrOrderForbidden, target)
		}
	case roleBuyer:
		if actor != order.BuyerID {
			return fmt.Errorf("%w: only the buyer may mark an order %s", ErrOrderForbidden, target)
		}
	}
	return nil
}

// checkReservation verifies that each line's listing still carries stock for
// the order quantity before a pending order is confirmed. It is a read-only
// check; the units were moved when the payment reconciled.
func (s *orderService) checkReservation(ctx context.Context, order domain.Order) error {
	for _, item := range order.Items {
		listing, err := s.stock.GetListing(ctx, item.ListingID)
		if err != nil {
			if errors.Is(err, ErrStockListingNotFound) {
				return fmt.Errorf("%w: listing %s no longer exists", ErrOrderConflict, item.ListingID)
			}
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		if listing.QuantitySold+listing.QuantityReserved < item.Quantity {
			return fmt.Errorf("%w: listing %s no longer holds %d units", ErrOrderConflict, item.ListingID, item.Quantity)
		}
	}
	return nil
}

// restock returns each cancelled line's units to availability. Failures are
// logged and do not undo the cancellation.
func (s *orderService) restock(ctx context.Context, order domain.Order, actor string) {
	for _, item := range order.Items {
		listing, err := s.stock.ReleaseSold(ctx, StockReleaseCommand{
			ListingID: item.ListingID,
			Quantity:  item.Quantity,
			Reason:    "order " + order.OrderNumber + " cancelled",
		})
		if err != nil {
			s.logger(ctx, eventOrderRestockError, map[string]any{
				"orderId":   order.ID,
				"listingId": item.ListingID,
				"qty":       item.Quantity,
				"error":     err.Error(),
			})
			continue
		}
		s.logger(ctx, eventOrderRestocked, map[string]any{
			"orderId":   order.ID,
			"listingId": item.ListingID,
			"qty":       item.Quantity,
			"available": listing.AvailableQuantity(),
		})
	}
}

// notifyStatusChange tells the counterparty about the move. Best effort.
func (s *orderService) notifyStatusChange(ctx context.Context, order domain.Order, previous domain.OrderStatus, actor string) {
	if s.notifications == nil {
		return
	}
	recipient := order.BuyerID
	if actor == order.BuyerID {
		recipient = order.SellerID
	}
	if recipient == "" {
		return
	}
	err := s.notifications.Dispatch(ctx, Notification{
		Type:        domain.NotificationOrderStatusChanged,
		RecipientID: recipient,
		OrderID:     order.ID,
		Title:       "Order " + order.OrderNumber + " updated",
		Body:        fmt.Sprintf("Order %s moved from %s to %s.", order.OrderNumber, previous, order.Status),
		Data: map[string]string{
			"orderId": order.ID,
			"from":    string(previous),
			"to":      string(order.Status),
		},
		OccurredAt: s.clock(),
	})
	if err != nil {
		s.logger(ctx, eventOrderNotifyError, map[string]any{
			"orderId":   order.ID,
			"recipient": recipient,
			"error":     err.Error(),
		})
	}
}

func isParticipant(order domain.Order, userID string) bool {
	return userID != "" && (userID == order.BuyerID || userID == order.SellerID)
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
