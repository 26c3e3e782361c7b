package khata

import (
	"context"
	"testing"
	"time"
)

func TestUndoLastWalksBackward(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	ledger := mustLedger(test, store, resolver, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	customer, err := resolver.GetOrCreate(context.Background(), shop, "Raju")
	if err != nil {
		test.Fatalf("get or create: %v", err)
	}
	if _, err := ledger.Insert(context.Background(), shop, customer.CustomerID, 120, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := ledger.Insert(context.Background(), shop, customer.CustomerID, 80, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}

	first, err := ledger.UndoLast(context.Background(), shop)
	if err != nil {
		test.Fatalf("undo: %v", err)
	}
	if first == nil || first.Amount != 80 {
		test.Fatalf("expected newest entry (80) undone first, got %+v", first)
	}
	second, err := ledger.UndoLast(context.Background(), shop)
	if err != nil {
		test.Fatalf("undo: %v", err)
	}
	if second == nil || second.Amount != 120 {
		test.Fatalf("expected older entry (120) undone second, got %+v", second)
	}
	third, err := ledger.UndoLast(context.Background(), shop)
	if err != nil {
		test.Fatalf("undo: %v", err)
	}
	if third != nil {
		test.Fatalf("expected nothing left to undo, got %+v", third)
	}
}

func TestSummarySkipsReversedAndSortsDescending(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	ledger := mustLedger(test, store, resolver, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	raju, _ := resolver.GetOrCreate(context.Background(), shop, "Raju")
	sita, _ := resolver.GetOrCreate(context.Background(), shop, "Sita")

	if _, err := ledger.Insert(context.Background(), shop, raju.CustomerID, 100, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := ledger.Insert(context.Background(), shop, sita.CustomerID, 500, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := ledger.Insert(context.Background(), shop, raju.CustomerID, 50, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	// Reverse the 50 so only 100 counts for Raju.
	if _, err := ledger.UndoLast(context.Background(), shop); err != nil {
		test.Fatalf("undo: %v", err)
	}

	rows, err := ledger.Summary(context.Background(), shop)
	if err != nil {
		test.Fatalf("summary: %v", err)
	}
	if len(rows) != 2 {
		test.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].CustomerName != "Sita" || rows[0].Amount != 500 {
		test.Fatalf("expected Sita 500 first, got %+v", rows[0])
	}
	if rows[1].CustomerName != "Raju" || rows[1].Amount != 100 {
		test.Fatalf("expected Raju 100 second, got %+v", rows[1])
	}
}

func TestCustomerTotalMergesVariantsWithBreakdown(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	ledger := mustLedger(test, store, resolver, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	raju, _ := resolver.GetOrCreate(context.Background(), shop, "Raju")
	raaju, _ := resolver.GetOrCreate(context.Background(), shop, "Raaju")

	if _, err := ledger.Insert(context.Background(), shop, raju.CustomerID, 120, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	if _, err := ledger.Insert(context.Background(), shop, raaju.CustomerID, 30, Provenance{}); err != nil {
		test.Fatalf("insert: %v", err)
	}

	// A third spelling matches both stored variants phonetically.
	result, err := ledger.CustomerTotal(context.Background(), shop, "Rajuu")
	if err != nil {
		test.Fatalf("customer total: %v", err)
	}
	if result.Status != LookupOK {
		test.Fatalf("expected lookup ok, got %s", result.Status)
	}
	if result.Total != 150 {
		test.Fatalf("expected merged total 150, got %g", result.Total)
	}
	if len(result.Customers) != 2 {
		test.Fatalf("expected 2 breakdown rows, got %d", len(result.Customers))
	}
	if result.Customers[0].Amount != 120 {
		test.Fatalf("expected largest share first, got %g", result.Customers[0].Amount)
	}
}

func TestCustomerTotalNotFoundCarriesSuggestions(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	ledger := mustLedger(test, store, resolver, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	if _, err := resolver.GetOrCreate(context.Background(), shop, "Mahesh Bhai"); err != nil {
		test.Fatalf("get or create: %v", err)
	}

	result, err := ledger.CustomerTotal(context.Background(), shop, "bhai")
	if err != nil {
		test.Fatalf("customer total: %v", err)
	}
	if result.Status != LookupNotFound {
		test.Fatalf("expected not found, got %s", result.Status)
	}
	if len(result.Suggestions) != 1 || result.Suggestions[0] != "Mahesh Bhai" {
		test.Fatalf("unexpected suggestions: %v", result.Suggestions)
	}
}

func TestRecentEntriesClampsLimitAndAttachesNames(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	ledger := mustLedger(test, store, resolver, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	raju, _ := resolver.GetOrCreate(context.Background(), shop, "Raju")
	for amount := 1; amount <= 3; amount++ {
		if _, err := ledger.Insert(context.Background(), shop, raju.CustomerID, float64(amount), Provenance{}); err != nil {
			test.Fatalf("insert: %v", err)
		}
		clock.Advance(time.Second)
	}

	entries, err := ledger.RecentEntries(context.Background(), shop, 0)
	if err != nil {
		test.Fatalf("recent entries: %v", err)
	}
	if len(entries) != 1 {
		test.Fatalf("expected limit clamped to 1, got %d entries", len(entries))
	}
	if entries[0].CustomerName != "Raju" {
		test.Fatalf("expected customer name attached, got %q", entries[0].CustomerName)
	}
	if entries[0].Amount != 3 {
		test.Fatalf("expected newest entry first, got %g", entries[0].Amount)
	}
}
