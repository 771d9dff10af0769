package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/payments"
	"github.com/sahel-market/api/internal/repositories"
)

const (
	eventReconcileStarted      = "reconcile.started"
	eventReconcileNoop         = "reconcile.noop"
	eventReconcileCompleted    = "reconcile.completed"
	eventReconcileFailed       = "reconcile.marked_failed"
	eventReconcileRepair       = "reconcile.repair_order"
	eventReconcileAnomaly      = "reconcile.stock_anomaly"
	eventReconcileCartClear    = "reconcile.cart_clear_failed"
	eventReconcileNotification = "reconcile.notification_failed"

	orderNumberCounter = "orders"
)

var (
	// ErrReconcileInvalidInput indicates the caller supplied invalid input.
	ErrReconcileInvalidInput = errors.New("reconciliation service: invalid input")
	// ErrReconcileUnknownIntent indicates no ledger rows reference the intent.
	ErrReconcileUnknownIntent = errors.New("reconciliation service: unknown intent")
	// ErrReconcileGateway indicates the gateway could not be consulted; the
	// caller should retry (webhook redelivery handles this).
	ErrReconcileGateway = errors.New("reconciliation service: gateway unavailable")
	// ErrReconcileUnavailable indicates the ledger store failed mid-run.
	ErrReconcileUnavailable = errors.New("reconciliation service: unavailable")
)

// settledStatuses are the gateway statuses that flip pending rows to completed.
var settledStatuses = map[payments.Status]bool{
	payments.StatusSucceeded: true,
}

// failedStatuses map a terminal gateway failure to the ledger status it produces.
var failedStatuses = map[payments.Status]domain.TransactionStatus{
	payments.StatusFailed:   domain.TransactionStatusFailed,
	payments.StatusCanceled: domain.TransactionStatusCanceled,
}

// ReconciliationServiceDeps enumerates collaborators for the reconciliation service.
type ReconciliationServiceDeps struct {
	Transactions  repositories.TransactionRepository
	Counters      repositories.CounterRepository
	Carts         CartService
	Payments      PaymentGateway
	Notifications NotificationDispatcher
	Provider      string
	// OrderNumberPrefix brands generated order numbers, e.g. "SM".
	OrderNumberPrefix string
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	transactions  repositories.TransactionRepository
	counters      repositories.CounterRepository
	carts         CartService
	gateway       PaymentGateway
	notifications NotificationDispatcher
	provider      string
	numberPrefix  string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewReconciliationService wires dependencies into a ReconciliationService implementation.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Transactions == nil {
		return nil, errors.New("reconciliation service: transaction repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("reconciliation service: counter repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("reconciliation service: payment gateway is required")
	}

	prefix := strings.TrimSpace(deps.OrderNumberPrefix)
	if prefix == "" {
		prefix = "SM"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		transactions:  deps.Transactions,
		counters:      deps.Counters,
		carts:         deps.Carts,
		gateway:       deps.Payments,
		notifications: deps.Notifications,
		provider:      strings.TrimSpace(deps.Provider),
		numberPrefix:  prefix,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// Reconcile drives one intent from its gateway outcome to durable order
// state. The pending-row filter makes replays no-ops: webhook, client
// confirmation, and the poller can all call this for the same intent in any
// order without double-processing.
func (s *reconciliationService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return ReconcileResult{}, ErrReconcileInvalidInput
	}
	result := ReconcileResult{IntentID: intentID}

	s.logger(ctx, eventReconcileStarted, map[string]any{
		"intentId":      intentID,
		"source":        strings.TrimSpace(cmd.Source),
		"claimedStatus": strings.TrimSpace(cmd.GatewayStatus),
	})

	pending, err := s.transactions.ListPendingByIntent(ctx, intentID)
	if err != nil {
		return ReconcileResult{}, ErrReconcileUnavailable
	}
	if len(pending) == 0 {
		all, err := s.transactions.ListByIntent(ctx, intentID)
		if err != nil {
			return ReconcileResult{}, ErrReconcileUnavailable
		}
		if len(all) == 0 {
			return ReconcileResult{}, fmt.Errorf("%w: %s", ErrReconcileUnknownIntent, intentID)
		}
		result.AlreadyProcessed = true
		for _, txn := range all {
			if txn.OrderID != "" && !containsString(result.OrderIDs, txn.OrderID) {
				result.OrderIDs = append(result.OrderIDs, txn.OrderID)
			}
		}
		s.logger(ctx, eventReconcileNoop, map[string]any{"intentId": intentID})
		return result, nil
	}

	// A webhook may claim any status; the gateway record is the ground truth.
	currency := pending[0].Currency
	details, err := s.gateway.RetrieveIntent(ctx, payments.PaymentContext{PreferredProvider: s.provider, Currency: currency}, payments.RetrieveRequest{IntentID: intentID})
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return ReconcileResult{}, fmt.Errorf("%w: %s", ErrReconcileUnknownIntent, intentID)
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileGateway, err)
	}
	result.GatewayStatus = string(details.Status)

	switch {
	case settledStatuses[details.Status]:
		return s.complete(ctx, intentID, pending, result)
	case failedStatuses[details.Status] != "":
		return s.fail(ctx, intentID, pending, failedStatuses[details.Status], string(details.Status), result)
	default:
		// Not settled yet; leave the rows pending for a later run.
		s.logger(ctx, eventReconcileNoop, map[string]any{
			"intentId": intentID,
			"status":   string(details.Status),
		})
		return result, nil
	}
}

func (s *reconciliationService) complete(ctx context.Context, intentID string, pending []Transaction, result ReconcileResult) (ReconcileResult, error) {
	now := s.clock()

	candidates, err := s.buildCandidateOrders(ctx, intentID, pending, now)
	if err != nil {
		// Counter or store failure before the atomic scope: abort so webhook
		// redelivery retries the whole run.
		return ReconcileResult{}, err
	}

	completed, err := s.transactions.CompleteByIntent(ctx, repositories.CompleteByIntentRequest{
		IntentID:        intentID,
		CandidateOrders: candidates,
		Now:             now,
	})
	if err != nil {
		return ReconcileResult{}, ErrReconcileUnavailable
	}

	result.Processed = len(completed.CompletedTransactionIDs)
	if result.Processed == 0 {
		result.AlreadyProcessed = true
		s.logger(ctx, eventReconcileNoop, map[string]any{"intentId": intentID})
		return result, nil
	}
	for _, order := range completed.Orders {
		result.OrderIDs = append(result.OrderIDs, order.ID)
		result.OrderNumbers = append(result.OrderNumbers, order.OrderNumber)
	}
	result.StockAnomalies = completed.StockAnomalies

	// Stock confirmation problems after a successful payment are logged,
	// never rolled back.
	for _, listingID := range completed.StockAnomalies {
		s.logger(ctx, eventReconcileAnomaly, map[string]any{
			"intentId":  intentID,
			"listingId": listingID,
		})
	}

	result.CartCleared = s.clearCarts(ctx, intentID, completed.BuyerIDs)
	s.notifyOrders(ctx, intentID, completed, now)

	s.logger(ctx, eventReconcileCompleted, map[string]any{
		"intentId": intentID,
		"rows":     result.Processed,
		"orders":   len(completed.Orders),
	})
	return result, nil
}

func (s *reconciliationService) fail(ctx context.Context, intentID string, pending []Transaction, status domain.TransactionStatus, gatewayStatus string, result ReconcileResult) (ReconcileResult, error) {
	failed, err := s.transactions.FailByIntent(ctx, repositories.FailByIntentRequest{
		IntentID: intentID,
		Status:   status,
		Reason:   "gateway status " + gatewayStatus,
		Now:      s.clock(),
	})
	if err != nil {
		return ReconcileResult{}, ErrReconcileUnavailable
	}
	result.FailedRows = len(failed.FailedTransactionIDs)
	result.AlreadyProcessed = result.FailedRows == 0

	if result.FailedRows > 0 && s.notifications != nil {
		buyerID := pending[0].BuyerID
		if err := s.notifications.Dispatch(ctx, Notification{
			Type:        domain.NotificationPaymentFailed,
			RecipientID: buyerID,
			IntentID:    intentID,
			Title:       "Payment unsuccessful",
			Body:        "Your payment could not be completed. Your items were returned to stock.",
			OccurredAt:  s.clock(),
		}); err != nil {
			s.logger(ctx, eventReconcileNotification, map[string]any{
				"intentId": intentID,
				"error":    err.Error(),
			})
		}
	}

	s.logger(ctx, eventReconcileFailed, map[string]any{
		"intentId": intentID,
		"rows":     result.FailedRows,
		"status":   string(status),
		"released": failed.ReleasedListings,
	})
	return result, nil
}

// buildCandidateOrders groups pending rows by seller into one order each and
// pre-allocates the order numbers outside the atomic scope; gaps from raced
// rows are acceptable. Row groups whose data cannot produce a well-formed
// order fall back to a repair order so the succeeded payment is never left
// without an order record.
func (s *reconciliationService) buildCandidateOrders(ctx context.Context, intentID string, pending []Transaction, now time.Time) (map[string]domain.Order, error) {
	bySeller := make(map[string][]Transaction)
	sellers := make([]string, 0, 4)
	for _, txn := range pending {
		if _, ok := bySeller[txn.SellerID]; !ok {
			sellers = append(sellers, txn.SellerID)
		}
		bySeller[txn.SellerID] = append(bySeller[txn.SellerID], txn)
	}
	sort.Strings(sellers)

	candidates := make(map[string]domain.Order, len(pending))
	for _, seller := range sellers {
		rows := bySeller[seller]
		order, repairNote := s.assembleOrder(intentID, seller, rows, now)
		if repairNote == "" {
			number, err := s.nextOrderNumber(ctx, now)
			if err != nil {
				return nil, ErrReconcileUnavailable
			}
			order.OrderNumber = number
		} else {
			order.Repair = true
			order.Note = repairNote
			order.OrderNumber = s.repairOrderNumber(intentID)
			s.logger(ctx, eventReconcileRepair, map[string]any{
				"intentId": intentID,
				"sellerId": seller,
				"note":     repairNote,
			})
		}
		for _, txn := range rows {
			candidates[txn.ID] = order
		}
	}
	return candidates, nil
}

// assembleOrder builds the order for one seller's rows. A non-empty repair
// note means the data could not produce a complete order and the caller
// should materialize it as a repair order instead of dropping the payment.
func (s *reconciliationService) assembleOrder(intentID, seller string, rows []Transaction, now time.Time) (domain.Order, string) {
	order := domain.Order{
		ID:        "ord_" + s.newID(),
		BuyerID:   rows[0].BuyerID,
		SellerID:  seller,
		Currency:  rows[0].Currency,
		Status:    domain.OrderStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var notes []string
	if strings.TrimSpace(seller) == "" {
		notes = append(notes, "missing seller")
	}
	for _, txn := range rows {
		if txn.Commission+txn.NetAmount != txn.TotalAmount || txn.TotalAmount != txn.UnitAmount*int64(txn.Quantity) {
			notes = append(notes, fmt.Sprintf("inconsistent amounts on %s", txn.ID))
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:        txn.ID,
			ListingID: txn.ListingID,
			SellerID:  txn.SellerID,
			Title:     txn.Title,
			Quantity:  txn.Quantity,
			UnitPrice: txn.UnitAmount,
		})
	}
	order.RecalculateTotal()

	if rows[0].Shipping != nil {
		shipping := *rows[0].Shipping
		order.Shipping = &shipping
	} else {
		notes = append(notes, "missing shipping details")
	}

	return order, strings.Join(notes, "; ")
}

func (s *reconciliationService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.numberPrefix, now.Year(), seq), nil
}

// repairOrderNumber derives a reproducible number from the intent so retried
// repairs do not consume the counter.
func (s *reconciliationService) repairOrderNumber(intentID string) string {
	tail := intentID
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	return fmt.Sprintf("%s-REPAIR-%s", s.numberPrefix, strings.ToUpper(tail))
}

// clearCarts empties the buyers' carts best effort. A failed clear leaves a
// stale cart, which the next checkout validation catches.
func (s *reconciliationService) clearCarts(ctx context.Context, intentID string, buyerIDs []string) bool {
	if s.carts == nil {
		return false
	}
	cleared := true
	for _, buyerID := range buyerIDs {
		if err := s.carts.ClearCart(ctx, buyerID); err != nil {
			cleared = false
			s.logger(ctx, eventReconcileCartClear, map[string]any{
				"intentId": intentID,
				"buyerId":  buyerID,
				"error":    err.Error(),
			})
		}
	}
	return cleared
}

// notifyOrders dispatches buyer and seller notifications fire and forget.
func (s *reconciliationService) notifyOrders(ctx context.Context, intentID string, completed repositories.CompleteByIntentResult, now time.Time) {
	if s.notifications == nil {
		return
	}
	dispatch := func(n Notification) {
		if err := s.notifications.Dispatch(ctx, n); err != nil {
			s.logger(ctx, eventReconcileNotification, map[string]any{
				"intentId": intentID,
				"type":     string(n.Type),
				"error":    err.Error(),
			})
		}
	}

	for _, order := range completed.Orders {
		dispatch(Notification{
			Type:        domain.NotificationOrderCreated,
			RecipientID: order.BuyerID,
			OrderID:     order.ID,
			IntentID:    intentID,
			Title:       "Order confirmed",
			Body:        fmt.Sprintf("Your order %s is confirmed.", order.OrderNumber),
			OccurredAt:  now,
		})
		dispatch(Notification{
			Type:        domain.NotificationOrderCreated,
			RecipientID: order.SellerID,
			OrderID:     order.ID,
			IntentID:    intentID,
			Title:       "New sale",
			Body:        fmt.Sprintf("You have a new order %s.", order.OrderNumber),
			OccurredAt:  now,
		})
	}
	sellerByListing := make(map[string]string)
	for _, order := range completed.Orders {
		for _, item := range order.Items {
			sellerByListing[item.ListingID] = item.SellerID
		}
	}
	for _, listingID := range completed.ExhaustedListings {
		dispatch(Notification{
			Type:        domain.NotificationStockExhausted,
			RecipientID: sellerByListing[listingID],
			ListingID:   listingID,
			IntentID:    intentID,
			Title:       "Listing sold out",
			Body:        "The last unit of your listing was just sold.",
			OccurredAt:  now,
		})
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
