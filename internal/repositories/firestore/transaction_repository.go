package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sahel-market/api/internal/domain"
	pfirestore "github.com/sahel-market/api/internal/platform/firestore"
	"github.com/sahel-market/api/internal/platform/pagination"
	"github.com/sahel-market/api/internal/repositories"
)

const transactionsCollection = "transactions"

// TransactionRepository persists the payment ledger. CompleteByIntent and
// FailByIntent are the only paths that mutate ledger rows after creation,
// and each runs as a single Firestore transaction spanning the rows, their
// orders, and the affected listings.
type TransactionRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.BaseRepository[transactionDocument]
}

func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	transactions := pfirestore.NewBaseRepository[transactionDocument](provider, transactionsCollection, nil, nil)
	return &TransactionRepository{provider: provider, transactions: transactions}, nil
}

func (r *TransactionRepository) InsertAll(ctx context.Context, txns []domain.Transaction) error {
	if r == nil || r.provider == nil {
		return errors.New("transaction repository not initialised")
	}
	if len(txns) == 0 {
		return errors.New("transaction insert: at least one row is required")
	}
	for _, txn := range txns {
		if strings.TrimSpace(txn.ID) == "" {
			return errors.New("transaction insert: id is required")
		}
	}
	// All rows of a checkout land together or not at all.
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		for _, txn := range txns {
			ref := client.Collection(transactionsCollection).Doc(strings.TrimSpace(txn.ID))
			if err := tx.Create(ref, newTransactionDocument(txn)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapLedgerError("transactions.insertAll", err)
	}
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if r == nil || r.transactions == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Transaction{}, errors.New("transaction find: id is required")
	}
	doc, err := r.transactions.Get(ctx, transactionID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Transaction{}, repositories.NewLedgerError(repositories.LedgerErrorTransactionNotFound, fmt.Sprintf("transaction %s not found", transactionID), err)
		}
		return domain.Transaction{}, wrapLedgerError("transactions.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *TransactionRepository) ListByIntent(ctx context.Context, intentID string) ([]domain.Transaction, error) {
	return r.listByIntent(ctx, "transactions.listByIntent", intentID, "")
}

func (r *TransactionRepository) ListPendingByIntent(ctx context.Context, intentID string) ([]domain.Transaction, error) {
	return r.listByIntent(ctx, "transactions.listPendingByIntent", intentID, domain.TransactionStatusPending)
}

func (r *TransactionRepository) listByIntent(ctx context.Context, op, intentID string, onlyStatus domain.TransactionStatus) ([]domain.Transaction, error) {
	if r == nil || r.transactions == nil {
		return nil, errors.New("transaction repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, errors.New("transaction list: intent id is required")
	}
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("intentId", "==", intentID)
		if onlyStatus != "" {
			q = q.Where("status", "==", string(onlyStatus))
		}
		return q
	})
	if err != nil {
		return nil, wrapLedgerError(op, err)
	}
	txns := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		txns = append(txns, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].ID < txns[j].ID })
	return txns, nil
}

func (r *TransactionRepository) List(ctx context.Context, filter repositories.TransactionListFilter) (domain.CursorPage[domain.Transaction], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Transaction]{}, errors.New("transaction repository not initialised")
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
		return domain.CursorPage[domain.Transaction]{}, wrapLedgerError("transactions.list", err)
	}

	query := client.Collection(transactionsCollection).Query
	if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
		query = query.Where("buyerId", "==", buyerID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerId", "==", sellerID)
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
			return domain.CursorPage[domain.Transaction]{}, wrapLedgerError("transactions.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var txns []domain.Transaction
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Transaction]{}, wrapLedgerError("transactions.list", err)
		}
		var doc transactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Transaction]{}, fmt.Errorf("decode transaction %s: %w", snap.Ref.ID, err)
		}
		txns = append(txns, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(txns) > pageSize
	if hasMore {
		txns = txns[:pageSize]
	}
	var nextToken string
	if hasMore && len(txns) > 0 {
		last := txns[len(txns)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Transaction]{}, wrapLedgerError("transactions.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Transaction]{Items: txns, NextPageToken: nextToken}, nil
}

// CompleteByIntent runs the confirmation atomic scope. Inside one Firestore
// transaction it re-reads the pending rows for the intent, flips them to
// completed with their order ID, materializes the orders, and confirms
// the stock decrement on every affected listing. Rows that already
// reference an order get that order flipped pending to confirmed; rows
// without one get the caller's candidate order written. Rows that raced to a
// non-pending status between the caller's read and this transaction are
// simply absent from the pending query, which makes a replayed confirmation
// a no-op.
//
// Stock confirmation never aborts the scope: the payment has already
// succeeded, so a hold or total that no longer covers the sold quantity is
// clamped and reported through StockAnomalies instead.
func (r *TransactionRepository) CompleteByIntent(ctx context.Context, req repositories.CompleteByIntentRequest) (repositories.CompleteByIntentResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CompleteByIntentResult{}, errors.New("transaction repository not initialised")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return repositories.CompleteByIntentResult{}, errors.New("transaction complete: intent id is required")
	}

	now := req.Now.UTC()
	var result repositories.CompleteByIntentResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.CompleteByIntentResult{}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		rows, err := pendingRowsTx(tx, client, intentID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		// All reads happen before the first write. Listings that cannot be
		// read are recorded as anomalies and skipped on the write side.
		qtyByListing := make(map[string]int)
		for _, row := range rows {
			qtyByListing[row.doc.ListingID] += row.doc.Quantity
		}
		listingIDs := sortedKeys(qtyByListing)
		listings := make(map[string]listingDocument, len(listingIDs))
		for _, listingID := range listingIDs {
			snap, err := tx.Get(client.Collection(listingsCollection).Doc(listingID))
			if err != nil {
				if status.Code(err) == codes.NotFound {
					result.StockAnomalies = append(result.StockAnomalies, listingID)
					continue
				}
				return err
			}
			var doc listingDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode listing %s: %w", listingID, err)
			}
			listings[listingID] = doc
		}

		// Rows created against a pre-materialized order carry its ID already.
		// Those orders are read here, before the first write, so they can be
		// flipped pending to confirmed instead of being overwritten with the
		// lazily built candidate.
		linkedOrderIDs := make(map[string]struct{})
		for _, row := range rows {
			if id := strings.TrimSpace(row.doc.OrderID); id != "" {
				linkedOrderIDs[id] = struct{}{}
			}
		}
		existingOrders := make(map[string]orderDocument, len(linkedOrderIDs))
		for _, orderID := range sortedKeys(linkedOrderIDs) {
			snap, err := tx.Get(client.Collection(ordersCollection).Doc(orderID))
			if err != nil {
				// A dangling order reference falls back to the candidate.
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode order %s: %w", orderID, err)
			}
			existingOrders[orderID] = doc
		}

		ordersByID := make(map[string]domain.Order)
		confirmedOrders := make(map[string]orderDocument)
		seenBuyers := make(map[string]bool)
		for _, row := range rows {
			doc := row.doc
			linkedID := strings.TrimSpace(doc.OrderID)
			if existing, ok := existingOrders[linkedID]; ok {
				confirmedOrders[linkedID] = existing
			} else {
				order, ok := req.CandidateOrders[row.id]
				if !ok {
					return repositories.NewLedgerError(repositories.LedgerErrorUnknown, fmt.Sprintf("no candidate order for transaction %s", row.id), nil)
				}
				doc.OrderID = order.ID
				ordersByID[order.ID] = order
			}
			doc.Status = string(domain.TransactionStatusCompleted)
			doc.FailureReason = ""
			doc.UpdatedAt = now
			if err := tx.Set(client.Collection(transactionsCollection).Doc(row.id), doc); err != nil {
				return err
			}
			result.CompletedTransactionIDs = append(result.CompletedTransactionIDs, row.id)
			if !seenBuyers[doc.BuyerID] {
				seenBuyers[doc.BuyerID] = true
				result.BuyerIDs = append(result.BuyerIDs, doc.BuyerID)
			}
		}

		for _, orderID := range sortedKeys(ordersByID) {
			order := ordersByID[orderID]
			order.UpdatedAt = now
			if err := tx.Set(client.Collection(ordersCollection).Doc(orderID), newOrderDocument(order)); err != nil {
				return err
			}
			result.Orders = append(result.Orders, order)
		}

		for _, orderID := range sortedKeys(confirmedOrders) {
			doc := confirmedOrders[orderID]
			if doc.Status == string(domain.OrderStatusPending) {
				doc.Status = string(domain.OrderStatusConfirmed)
			}
			doc.UpdatedAt = now
			if err := tx.Set(client.Collection(ordersCollection).Doc(orderID), doc); err != nil {
				return err
			}
			result.Orders = append(result.Orders, doc.toDomain(orderID))
		}

		for _, listingID := range listingIDs {
			doc, ok := listings[listingID]
			if !ok {
				continue
			}
			qty := qtyByListing[listingID]
			doc.Reserved -= qty
			if doc.Reserved < 0 {
				doc.Reserved = 0
				result.StockAnomalies = append(result.StockAnomalies, listingID)
			}
			doc.Sold += qty
			if doc.Sold > doc.Quantity {
				doc.Sold = doc.Quantity
				result.StockAnomalies = append(result.StockAnomalies, listingID)
			}
			doc.UpdatedAt = now
			doc.recalculate()
			if doc.Available == 0 {
				result.ExhaustedListings = append(result.ExhaustedListings, listingID)
			}
			if err := tx.Set(client.Collection(listingsCollection).Doc(listingID), doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repositories.CompleteByIntentResult{}, wrapLedgerError("transactions.completeByIntent", err)
	}
	return result, nil
}

// FailByIntent flips the pending rows for an intent to the given terminal
// status and releases their stock holds in one transaction. Like its
// completion counterpart, it is a no-op when no pending rows remain.
func (r *TransactionRepository) FailByIntent(ctx context.Context, req repositories.FailByIntentRequest) (repositories.FailByIntentResult, error) {
	if r == nil || r.provider == nil {
		return repositories.FailByIntentResult{}, errors.New("transaction repository not initialised")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return repositories.FailByIntentResult{}, errors.New("transaction fail: intent id is required")
	}
	if req.Status != domain.TransactionStatusFailed && req.Status != domain.TransactionStatusCanceled {
		return repositories.FailByIntentResult{}, repositories.NewLedgerError(repositories.LedgerErrorInvalidStatus, fmt.Sprintf("transaction fail: %s is not a failure status", req.Status), nil)
	}

	now := req.Now.UTC()
	var result repositories.FailByIntentResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.FailByIntentResult{}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		rows, err := pendingRowsTx(tx, client, intentID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		qtyByListing := make(map[string]int)
		for _, row := range rows {
			qtyByListing[row.doc.ListingID] += row.doc.Quantity
		}
		listingIDs := sortedKeys(qtyByListing)
		listings := make(map[string]listingDocument, len(listingIDs))
		for _, listingID := range listingIDs {
			snap, err := tx.Get(client.Collection(listingsCollection).Doc(listingID))
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc listingDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode listing %s: %w", listingID, err)
			}
			listings[listingID] = doc
		}

		for _, row := range rows {
			doc := row.doc
			doc.Status = string(req.Status)
			doc.FailureReason = strings.TrimSpace(req.Reason)
			doc.UpdatedAt = now
			if err := tx.Set(client.Collection(transactionsCollection).Doc(row.id), doc); err != nil {
				return err
			}
			result.FailedTransactionIDs = append(result.FailedTransactionIDs, row.id)
		}

		for _, listingID := range listingIDs {
			doc, ok := listings[listingID]
			if !ok {
				continue
			}
			doc.Reserved -= qtyByListing[listingID]
			if doc.Reserved < 0 {
				doc.Reserved = 0
			}
			doc.UpdatedAt = now
			doc.recalculate()
			if err := tx.Set(client.Collection(listingsCollection).Doc(listingID), doc); err != nil {
				return err
			}
			result.ReleasedListings = append(result.ReleasedListings, listingID)
		}
		return nil
	})
	if err != nil {
		return repositories.FailByIntentResult{}, wrapLedgerError("transactions.failByIntent", err)
	}
	return result, nil
}

func (r *TransactionRepository) MarkRefunded(ctx context.Context, transactionID string, now time.Time) (domain.Transaction, error) {
	if r == nil || r.provider == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Transaction{}, errors.New("transaction refund: id is required")
	}

	var refunded domain.Transaction
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.transactions.DocumentRef(ctx, transactionID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewLedgerError(repositories.LedgerErrorTransactionNotFound, fmt.Sprintf("transaction %s not found", transactionID), err)
			}
			return err
		}
		var doc transactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode transaction %s: %w", transactionID, err)
		}
		if domain.TransactionStatus(doc.Status) != domain.TransactionStatusCompleted {
			return repositories.NewLedgerError(repositories.LedgerErrorInvalidStatus, fmt.Sprintf("transaction %s is %s, only completed rows can be refunded", transactionID, doc.Status), nil)
		}
		doc.Status = string(domain.TransactionStatusRefunded)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		refunded = doc.toDomain(transactionID)
		return nil
	})
	if err != nil {
		return domain.Transaction{}, wrapLedgerError("transactions.markRefunded", err)
	}
	return refunded, nil
}

// Helper structures ---------------------------------------------------------

type transactionRow struct {
	id  string
	doc transactionDocument
}

func pendingRowsTx(tx *firestore.Transaction, client *firestore.Client, intentID string) ([]transactionRow, error) {
	query := client.Collection(transactionsCollection).Query.
		Where("intentId", "==", intentID).
		Where("status", "==", string(domain.TransactionStatusPending))
	iter := tx.Documents(query)
	defer iter.Stop()

	var rows []transactionRow
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc transactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, transactionRow{id: snap.Ref.ID, doc: doc})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	return rows, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type transactionDocument struct {
	IntentID       string            `firestore:"intentId"`
	ListingID      string            `firestore:"listingId"`
	BuyerID        string            `firestore:"buyerId"`
	SellerID       string            `firestore:"sellerId"`
	Quantity       int               `firestore:"qty"`
	UnitAmount     int64             `firestore:"unitAmount"`
	TotalAmount    int64             `firestore:"totalAmount"`
	CommissionRate int64             `firestore:"commissionRateBps"`
	Commission     int64             `firestore:"commission"`
	NetAmount      int64             `firestore:"netAmount"`
	Currency       string            `firestore:"currency"`
	Status         string            `firestore:"status"`
	Shipping       *shippingDocument `firestore:"shipping,omitempty"`
	Title          string            `firestore:"title,omitempty"`
	OrderID        string            `firestore:"orderId,omitempty"`
	FailureReason  string            `firestore:"failureReason,omitempty"`
	CreatedAt      time.Time         `firestore:"createdAt"`
	UpdatedAt      time.Time         `firestore:"updatedAt"`
}

func newTransactionDocument(txn domain.Transaction) transactionDocument {
	var shipping *shippingDocument
	if txn.Shipping != nil {
		shipping = &shippingDocument{
			RecipientName: strings.TrimSpace(txn.Shipping.RecipientName),
			Phone:         strings.TrimSpace(txn.Shipping.Phone),
			Line1:         strings.TrimSpace(txn.Shipping.Line1),
			Line2:         strings.TrimSpace(txn.Shipping.Line2),
			City:          strings.TrimSpace(txn.Shipping.City),
			Country:       strings.TrimSpace(txn.Shipping.Country),
			Note:          strings.TrimSpace(txn.Shipping.Note),
		}
	}
	return transactionDocument{
		IntentID:       strings.TrimSpace(txn.IntentID),
		ListingID:      strings.TrimSpace(txn.ListingID),
		BuyerID:        strings.TrimSpace(txn.BuyerID),
		SellerID:       strings.TrimSpace(txn.SellerID),
		Quantity:       txn.Quantity,
		UnitAmount:     txn.UnitAmount,
		TotalAmount:    txn.TotalAmount,
		CommissionRate: txn.CommissionRate,
		Commission:     txn.Commission,
		NetAmount:      txn.NetAmount,
		Currency:       domain.NormalizeCurrency(txn.Currency),
		Status:         string(txn.Status),
		Shipping:       shipping,
		Title:          strings.TrimSpace(txn.Title),
		OrderID:        strings.TrimSpace(txn.OrderID),
		FailureReason:  strings.TrimSpace(txn.FailureReason),
		CreatedAt:      txn.CreatedAt.UTC(),
		UpdatedAt:      txn.UpdatedAt.UTC(),
	}
}

func (d transactionDocument) toDomain(id string) domain.Transaction {
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
	return domain.Transaction{
		ID:             id,
		IntentID:       d.IntentID,
		ListingID:      d.ListingID,
		BuyerID:        d.BuyerID,
		SellerID:       d.SellerID,
		Quantity:       d.Quantity,
		UnitAmount:     d.UnitAmount,
		TotalAmount:    d.TotalAmount,
		CommissionRate: d.CommissionRate,
		Commission:     d.Commission,
		NetAmount:      d.NetAmount,
		Currency:       d.Currency,
		Status:         domain.TransactionStatus(d.Status),
		Shipping:       shipping,
		Title:          d.Title,
		OrderID:        d.OrderID,
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type ledgerPageToken struct {
	ID        string
	CreatedAt time.Time
}

// Ledger page tokens ride on the shared pagination cursor format: the cursor
// carries [createdAt, id] so list queries can resume after the last row seen.
func encodeLedgerPageToken(token ledgerPageToken) (string, error) {
	encoded, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
	if err != nil {
		return "", fmt.Errorf("encode ledger page token: %w", err)
	}
	return encoded, nil
}

func decodeLedgerPageToken(encoded string) (*ledgerPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ledger page token: %w", err)
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("decode ledger page token: %w", pagination.ErrInvalidPageToken)
	}
	rawCreated, okCreated := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okCreated || !okID || strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("decode ledger page token: %w", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreated)
	if err != nil {
		return nil, fmt.Errorf("decode ledger page token: %w", pagination.ErrInvalidPageToken)
	}
	return &ledgerPageToken{ID: id, CreatedAt: createdAt}, nil
}

func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
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
