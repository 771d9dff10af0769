//go:build integration

package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/repositories"
)

// TestStockLedgerIntegration drives the stock ledger against a real emulator:
// reservations down to exhaustion, the confirmation scope with its replay
// no-op, the pre-linked order flip, and the clamp path for holds that no
// longer cover the sold quantity.
func TestStockLedgerIntegration(t *testing.T) {
	provider := startEmulatorProvider(t, "stock-ledger-test")

	listings, err := NewListingRepository(provider)
	if err != nil {
		t.Fatalf("new listing repository: %v", err)
	}
	txns, err := NewTransactionRepository(provider)
	if err != nil {
		t.Fatalf("new transaction repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)

	t.Run("reserve down to exhaustion", func(t *testing.T) {
		if _, err := listings.Insert(ctx, domain.Listing{
			ID:        "lst-stock",
			SellerID:  "seller-1",
			Title:     "Clay pot",
			Price:     1500,
			Currency:  "XOF",
			Quantity:  3,
			Status:    domain.ListingStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			t.Fatalf("insert listing: %v", err)
		}

		res, err := listings.Reserve(ctx, repositories.StockReserveRequest{ListingID: "lst-stock", Quantity: 2, Now: now})
		if err != nil {
			t.Fatalf("reserve 2: %v", err)
		}
		if !res.Reserved || res.Listing.AvailableQuantity() != 1 {
			t.Fatalf("expected hold of 2 with 1 left, got %+v", res)
		}

		// Over-asking must not take a partial hold.
		res, err = listings.Reserve(ctx, repositories.StockReserveRequest{ListingID: "lst-stock", Quantity: 2, Now: now})
		if err != nil {
			t.Fatalf("reserve beyond availability: %v", err)
		}
		if res.Reserved {
			t.Fatalf("expected reservation refusal, got %+v", res)
		}
		if res.Listing.QuantityReserved != 2 || res.Listing.AvailableQuantity() != 1 {
			t.Fatalf("refused reserve must not mutate the listing, got %+v", res.Listing)
		}

		res, err = listings.Reserve(ctx, repositories.StockReserveRequest{ListingID: "lst-stock", Quantity: 1, Now: now})
		if err != nil {
			t.Fatalf("reserve last unit: %v", err)
		}
		if !res.Reserved || res.Listing.AvailableQuantity() != 0 {
			t.Fatalf("expected exhaustion after the last unit, got %+v", res)
		}
		if res.Listing.Status != domain.ListingStatusOutOfStock {
			t.Fatalf("expected out_of_stock status, got %s", res.Listing.Status)
		}

		_, err = listings.Reserve(ctx, repositories.StockReserveRequest{ListingID: "lst-stock", Quantity: 1, Now: now})
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorListingInactive {
			t.Fatalf("expected inactive listing error on the exhausted listing, got %v", err)
		}
	})

	t.Run("complete by intent confirms stock and replays as a no-op", func(t *testing.T) {
		rows := []domain.Transaction{
			{
				ID: "txn-a", IntentID: "pi_int_1", ListingID: "lst-stock",
				BuyerID: "buyer-1", SellerID: "seller-1", Quantity: 2,
				UnitAmount: 1500, TotalAmount: 3000, Currency: "XOF",
				Status: domain.TransactionStatusPending, CreatedAt: now, UpdatedAt: now,
			},
			{
				ID: "txn-b", IntentID: "pi_int_1", ListingID: "lst-stock",
				BuyerID: "buyer-1", SellerID: "seller-1", Quantity: 1,
				UnitAmount: 1500, TotalAmount: 1500, Currency: "XOF",
				Status: domain.TransactionStatusPending, CreatedAt: now, UpdatedAt: now,
			},
		}
		if err := txns.InsertAll(ctx, rows); err != nil {
			t.Fatalf("insert transactions: %v", err)
		}

		candidates := map[string]domain.Order{
			"txn-a": {
				ID: "ord-a", OrderNumber: "SM-2026-000001", BuyerID: "buyer-1", SellerID: "seller-1",
				Currency: "XOF", TotalPrice: 3000, Status: domain.OrderStatusConfirmed,
				CreatedAt: now, UpdatedAt: now,
			},
			"txn-b": {
				ID: "ord-b", OrderNumber: "SM-2026-000002", BuyerID: "buyer-1", SellerID: "seller-1",
				Currency: "XOF", TotalPrice: 1500, Status: domain.OrderStatusConfirmed,
				CreatedAt: now, UpdatedAt: now,
			},
		}

		result, err := txns.CompleteByIntent(ctx, repositories.CompleteByIntentRequest{
			IntentID:        "pi_int_1",
			CandidateOrders: candidates,
			Now:             now,
		})
		if err != nil {
			t.Fatalf("complete by intent: %v", err)
		}
		if len(result.CompletedTransactionIDs) != 2 || len(result.Orders) != 2 {
			t.Fatalf("expected both rows completed with their orders, got %+v", result)
		}
		if len(result.StockAnomalies) != 0 {
			t.Fatalf("holds covered the sale, anomalies are unexpected: %v", result.StockAnomalies)
		}
		if len(result.ExhaustedListings) != 1 || result.ExhaustedListings[0] != "lst-stock" {
			t.Fatalf("expected lst-stock to be reported exhausted, got %v", result.ExhaustedListings)
		}

		listing, err := listings.FindByID(ctx, "lst-stock")
		if err != nil {
			t.Fatalf("find listing: %v", err)
		}
		if listing.QuantitySold != 3 || listing.QuantityReserved != 0 {
			t.Fatalf("expected all holds converted to sales, got %+v", listing)
		}

		order, err := orders.FindByID(ctx, "ord-a")
		if err != nil {
			t.Fatalf("find order: %v", err)
		}
		if order.Status != domain.OrderStatusConfirmed {
			t.Fatalf("expected confirmed order, got %s", order.Status)
		}

		// A second confirmation for the same intent finds no pending rows.
		replay, err := txns.CompleteByIntent(ctx, repositories.CompleteByIntentRequest{
			IntentID:        "pi_int_1",
			CandidateOrders: candidates,
			Now:             now.Add(time.Second),
		})
		if err != nil {
			t.Fatalf("replay complete by intent: %v", err)
		}
		if len(replay.CompletedTransactionIDs) != 0 || len(replay.Orders) != 0 {
			t.Fatalf("expected replay to be a no-op, got %+v", replay)
		}

		listing, err = listings.FindByID(ctx, "lst-stock")
		if err != nil {
			t.Fatalf("find listing after replay: %v", err)
		}
		if listing.QuantitySold != 3 {
			t.Fatalf("replay must not double the sale, got %+v", listing)
		}
	})

	t.Run("complete flips a pre-linked order to confirmed", func(t *testing.T) {
		if _, err := listings.Insert(ctx, domain.Listing{
			ID: "lst-linked", SellerID: "seller-2", Title: "Indigo scarf",
			Price: 2000, Currency: "XOF", Quantity: 2,
			Status: domain.ListingStatusActive, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("insert listing: %v", err)
		}
		if _, err := listings.Reserve(ctx, repositories.StockReserveRequest{ListingID: "lst-linked", Quantity: 1, Now: now}); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := orders.Insert(ctx, domain.Order{
			ID: "ord-pre", OrderNumber: "SM-2026-000010", BuyerID: "buyer-2", SellerID: "seller-2",
			Currency: "XOF", TotalPrice: 2000, Status: domain.OrderStatusPending,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("insert order: %v", err)
		}
		if err := txns.InsertAll(ctx, []domain.Transaction{{
			ID: "txn-pre", IntentID: "pi_int_2", ListingID: "lst-linked",
			BuyerID: "buyer-2", SellerID: "seller-2", Quantity: 1,
			UnitAmount: 2000, TotalAmount: 2000, Currency: "XOF",
			Status: domain.TransactionStatusPending, OrderID: "ord-pre",
			CreatedAt: now, UpdatedAt: now,
		}}); err != nil {
			t.Fatalf("insert transaction: %v", err)
		}

		result, err := txns.CompleteByIntent(ctx, repositories.CompleteByIntentRequest{
			IntentID: "pi_int_2",
			CandidateOrders: map[string]domain.Order{
				"txn-pre": {
					ID: "ord-unused", OrderNumber: "SM-2026-000011", BuyerID: "buyer-2", SellerID: "seller-2",
					Currency: "XOF", TotalPrice: 2000, Status: domain.OrderStatusConfirmed,
					CreatedAt: now, UpdatedAt: now,
				},
			},
			Now: now,
		})
		if err != nil {
			t.Fatalf("complete by intent: %v", err)
		}
		if len(result.Orders) != 1 || result.Orders[0].ID != "ord-pre" {
			t.Fatalf("expected the pre-linked order, got %+v", result.Orders)
		}
		if result.Orders[0].Status != domain.OrderStatusConfirmed {
			t.Fatalf("expected pending order flipped to confirmed, got %s", result.Orders[0].Status)
		}

		order, err := orders.FindByID(ctx, "ord-pre")
		if err != nil {
			t.Fatalf("find order: %v", err)
		}
		if order.Status != domain.OrderStatusConfirmed {
			t.Fatalf("expected confirmed order in the store, got %s", order.Status)
		}

		txn, err := txns.FindByID(ctx, "txn-pre")
		if err != nil {
			t.Fatalf("find transaction: %v", err)
		}
		if txn.Status != domain.TransactionStatusCompleted || txn.OrderID != "ord-pre" {
			t.Fatalf("row must keep its original order link, got %+v", txn)
		}

		if _, err := orders.FindByID(ctx, "ord-unused"); err == nil {
			t.Fatal("the candidate order must not be written when a link exists")
		}
	})

	t.Run("complete clamps a hold that no longer covers the sale", func(t *testing.T) {
		if _, err := listings.Insert(ctx, domain.Listing{
			ID: "lst-anomaly", SellerID: "seller-3", Title: "Shea butter",
			Price: 800, Currency: "XOF", Quantity: 1,
			Status: domain.ListingStatusActive, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("insert listing: %v", err)
		}
		if err := txns.InsertAll(ctx, []domain.Transaction{{
			ID: "txn-anom", IntentID: "pi_int_3", ListingID: "lst-anomaly",
			BuyerID: "buyer-3", SellerID: "seller-3", Quantity: 3,
			UnitAmount: 800, TotalAmount: 2400, Currency: "XOF",
			Status: domain.TransactionStatusPending, CreatedAt: now, UpdatedAt: now,
		}}); err != nil {
			t.Fatalf("insert transaction: %v", err)
		}

		result, err := txns.CompleteByIntent(ctx, repositories.CompleteByIntentRequest{
			IntentID: "pi_int_3",
			CandidateOrders: map[string]domain.Order{
				"txn-anom": {
					ID: "ord-anom", OrderNumber: "SM-2026-000020", BuyerID: "buyer-3", SellerID: "seller-3",
					Currency: "XOF", TotalPrice: 2400, Status: domain.OrderStatusConfirmed,
					CreatedAt: now, UpdatedAt: now,
				},
			},
			Now: now,
		})
		if err != nil {
			t.Fatalf("complete by intent: %v", err)
		}
		// The payment already succeeded: the row still completes, the listing
		// is clamped instead of aborting the scope.
		if len(result.CompletedTransactionIDs) != 1 {
			t.Fatalf("expected the row to complete despite the anomaly, got %+v", result)
		}
		if len(result.StockAnomalies) == 0 {
			t.Fatalf("expected lst-anomaly to be reported, got %+v", result)
		}

		listing, err := listings.FindByID(ctx, "lst-anomaly")
		if err != nil {
			t.Fatalf("find listing: %v", err)
		}
		if listing.QuantitySold != 1 || listing.QuantityReserved != 0 {
			t.Fatalf("expected sold clamped to the total quantity, got %+v", listing)
		}
		if listing.AvailableQuantity() != 0 {
			t.Fatalf("expected no availability left, got %+v", listing)
		}
	})
}
