package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/platform/auth"
	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/platform/pagination"
	"github.com/sahel-market/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:     {},
	domain.OrderStatusConfirmed:   {},
	domain.OrderStatusReadyToShip: {},
	domain.OrderStatusShipped:     {},
	domain.OrderStatusDelivered:   {},
	domain.OrderStatusCancelled:   {},
	domain.OrderStatusFailed:      {},
	domain.OrderStatusReturned:    {},
}

// OrderHandlers exposes order reads and fulfilment transitions for buyers
// and sellers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:confirm", h.transitionTo(domain.OrderStatusConfirmed))
	r.Post("/{orderID}:ready", h.transitionTo(domain.OrderStatusReadyToShip))
	r.Post("/{orderID}:ship", h.transitionTo(domain.OrderStatusShipped))
	r.Post("/{orderID}:deliver", h.transitionTo(domain.OrderStatusDelivered))
	r.Post("/{orderID}:return", h.transitionTo(domain.OrderStatusReturned))
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type orderTransitionRequest struct {
	Note string `json:"note"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID          string              `json:"id"`
	OrderNumber string              `json:"order_number"`
	BuyerID     string              `json:"buyer_id"`
	SellerID    string              `json:"seller_id"`
	Status      string              `json:"status"`
	Currency    string              `json:"currency"`
	TotalPrice  int64               `json:"total_price"`
	Items       []orderItemPayload  `json:"items"`
	Shipping    *orderShippingBlock `json:"shipping,omitempty"`
	Repair      bool                `json:"repair,omitempty"`
	Note        string              `json:"note,omitempty"`
	CreatedAt   string              `json:"created_at,omitempty"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	Title     string `json:"title,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type orderShippingBlock struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Note          string `json:"note,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, invalid := parseOrderStatusFilters(query["status"])
	if invalid != "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status "+strconv.Quote(invalid), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Status:      statuses,
		OrderNumber: strings.TrimSpace(query.Get("order_number")),
	}

	// The acting user sees their own orders: purchases by default, sales
	// with role=seller.
	if strings.EqualFold(strings.TrimSpace(query.Get("role")), "seller") {
		filter.SellerID = uid
	} else {
		filter.BuyerID = uid
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	pageParams, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is not a valid cursor", http.StatusBadRequest))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageParams.PageSize,
		PageToken: pageParams.PageToken,
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:      orderID,
		ActingUserID: uid,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionTo(target domain.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		uid, ok := h.requireUser(ctx, w)
		if !ok {
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
			return
		}

		var req orderTransitionRequest
		if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
				return
			}
		} else if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}

		order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
			OrderID:      orderID,
			ActingUserID: uid,
			Target:       target,
			Note:         strings.TrimSpace(req.Note),
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:      orderID,
		ActingUserID: uid,
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func parseOrderStatusFilters(values []string) ([]services.OrderStatus, string) {
	raw := parseFilterValues(values)
	if len(raw) == 0 {
		return nil, ""
	}
	statuses := make([]services.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status := domain.OrderStatus(value)
		if _, ok := validOrderStatuses[status]; !ok {
			return nil, value
		}
		statuses = append(statuses, status)
	}
	return statuses, ""
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		BuyerID:     strings.TrimSpace(order.BuyerID),
		SellerID:    strings.TrimSpace(order.SellerID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalPrice:  order.TotalPrice,
		Items:       buildOrderItems(order.Items),
		Repair:      order.Repair,
		Note:        strings.TrimSpace(order.Note),
	}
	if order.Shipping != nil {
		payload.Shipping = &orderShippingBlock{
			RecipientName: order.Shipping.RecipientName,
			Phone:         order.Shipping.Phone,
			Line1:         order.Shipping.Line1,
			Line2:         order.Shipping.Line2,
			City:          order.Shipping.City,
			Country:       order.Shipping.Country,
			Note:          order.Shipping.Note,
		}
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(order.CreatedAt)
	}
	if !order.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(order.UpdatedAt)
	}
	return payload
}

func buildOrderItems(items []services.OrderItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ID:        strings.TrimSpace(item.ID),
			ListingID: strings.TrimSpace(item.ListingID),
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Hidden as not-found so order ids cannot be probed.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
