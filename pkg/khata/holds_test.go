package khata

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustHolds(test *testing.T, store Store, now func() time.Time) *Holds {
	test.Helper()
	holds, err := NewHolds(store, now)
	if err != nil {
		test.Fatalf("holds: %v", err)
	}
	return holds
}

func TestCreateHoldRejectsNonPositiveAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	holds := mustHolds(test, store, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	_, err := holds.CreateHold(context.Background(), shop, "cust-1", "Raju", 0, nil, "")
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateHoldStoresCustomerName(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	holds := mustHolds(test, store, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	hold, err := holds.CreateHold(context.Background(), shop, "cust-1", "Raju", 500, nil, "kirana udhaar")
	if err != nil {
		test.Fatalf("create hold: %v", err)
	}
	if hold.CustomerName != "Raju" {
		test.Fatalf("expected customer name on hold, got %q", hold.CustomerName)
	}
	stored, _ := store.GetPaymentHold(context.Background(), hold.HoldID)
	if stored.CustomerName != "Raju" {
		test.Fatalf("expected stored customer name, got %q", stored.CustomerName)
	}
}

func TestListDueAppliesAgeAndCooldown(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	holds := mustHolds(test, store, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	old, err := holds.CreateHold(context.Background(), shop, "cust-1", "Raju", 500, nil, "kirana udhaar")
	if err != nil {
		test.Fatalf("create hold: %v", err)
	}
	clock.Advance(4 * 24 * time.Hour)
	if _, err := holds.CreateHold(context.Background(), shop, "cust-2", "Sita", 200, nil, "fresh"); err != nil {
		test.Fatalf("create hold: %v", err)
	}

	due, err := holds.ListDue(context.Background(), shop, 3, 24)
	if err != nil {
		test.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].HoldID != old.HoldID {
		test.Fatalf("expected only the aged hold due, got %+v", due)
	}

	// A recent notification puts the hold into cooldown.
	if err := holds.MarkNotified(context.Background(), old.HoldID); err != nil {
		test.Fatalf("mark notified: %v", err)
	}
	due, err = holds.ListDue(context.Background(), shop, 3, 24)
	if err != nil {
		test.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		test.Fatalf("expected cooldown to suppress the hold, got %+v", due)
	}

	// After the cooldown elapses it is due again.
	clock.Advance(25 * time.Hour)
	due, err = holds.ListDue(context.Background(), shop, 3, 24)
	if err != nil {
		test.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		test.Fatalf("expected hold due after cooldown, got %+v", due)
	}
}

func TestMarkNotifiedIncrementsCounter(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	holds := mustHolds(test, store, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	hold, err := holds.CreateHold(context.Background(), shop, "cust-1", "Raju", 300, nil, "")
	if err != nil {
		test.Fatalf("create hold: %v", err)
	}
	if err := holds.MarkNotified(context.Background(), hold.HoldID); err != nil {
		test.Fatalf("mark notified: %v", err)
	}
	if err := holds.MarkNotified(context.Background(), hold.HoldID); err != nil {
		test.Fatalf("mark notified: %v", err)
	}
	stored, _ := store.GetPaymentHold(context.Background(), hold.HoldID)
	if stored.NotifyCount != 2 {
		test.Fatalf("expected notify count 2, got %d", stored.NotifyCount)
	}
	if stored.LastNotifiedAt == nil {
		test.Fatalf("expected last notified timestamp set")
	}
}

func TestResolveIsTerminal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := newManualClock(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	holds := mustHolds(test, store, clock.Now)
	shop := mustShopKey(test, "+919876543210")

	hold, err := holds.CreateHold(context.Background(), shop, "cust-1", "Raju", 300, nil, "")
	if err != nil {
		test.Fatalf("create hold: %v", err)
	}
	resolved, err := holds.Resolve(context.Background(), hold.HoldID, "paid in cash")
	if err != nil || !resolved {
		test.Fatalf("resolve: resolved=%v err=%v", resolved, err)
	}
	again, err := holds.Resolve(context.Background(), hold.HoldID, "duplicate")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if again {
		test.Fatalf("expected second resolve to report false")
	}
	stored, _ := store.GetPaymentHold(context.Background(), hold.HoldID)
	if stored.ResolvedNote != "paid in cash" {
		test.Fatalf("expected first note kept, got %q", stored.ResolvedNote)
	}
}
