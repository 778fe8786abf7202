package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"phonepos/backend/internal/docstore"
)

func TestTransactionRoundTrip(t *testing.T) {
	uri := os.Getenv("PHONEPOS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set PHONEPOS_TEST_MONGO_URI to run mongo integration test")
	}

	ctx := context.Background()
	database := fmt.Sprintf("phonepos_it_%d", time.Now().UnixNano())
	s, err := New(ctx, uri, database)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})

	customer := docstore.Doc("Customers", "c1")
	if err := s.Set(ctx, customer, map[string]any{"name": "Walk-in", "balance": 10}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	doc, err := s.Get(ctx, customer)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}

	sale := s.NewRef("Sales")
	err = s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Create(sale, map[string]any{"grandTotal": 560})
		tx.Update(customer, map[string]any{
			"balance":            60,
			"transactionHistory": docstore.ArrayAppend(map[string]any{"saleReference": sale.Path()}),
		}, docstore.MatchVersion(doc.Version))
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}

	updated, err := s.Get(ctx, customer)
	if err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if history, _ := updated.Data["transactionHistory"].([]any); len(history) != 1 {
		t.Fatalf("expected one history entry, got %v", updated.Data["transactionHistory"])
	}

	// Reusing the stale version must abort and leave no second sale behind.
	second := s.NewRef("Sales")
	err = s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Create(second, map[string]any{"grandTotal": 1})
		tx.Update(customer, map[string]any{"balance": 0}, docstore.MatchVersion(doc.Version))
		return nil
	})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.Get(ctx, second); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected second sale to be rolled back, got %v", err)
	}

	found, err := s.Query(ctx, "Sales", docstore.Where("grandTotal", 560))
	if err != nil {
		t.Fatalf("query sales: %v", err)
	}
	if len(found) != 1 || found[0].Ref != sale {
		t.Fatalf("unexpected query result: %+v", found)
	}
}
