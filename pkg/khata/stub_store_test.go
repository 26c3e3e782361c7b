package khata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store for unit tests. All methods are safe for
// concurrent use so claim races can be exercised directly.
type stubStore struct {
	mu            sync.Mutex
	customers     []Customer
	entries       []UdhaarEntry
	pendings      []PendingAction
	products      []Product
	inventoryLogs []InventoryLog
	holds         []PaymentHold
	notifications []NotificationLog
	nextID        int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{}
}

func (store *stubStore) newID(prefix string) string {
	store.nextID++
	return fmt.Sprintf("%s-%d", prefix, store.nextID)
}

func (store *stubStore) UpsertCustomer(_ context.Context, customer Customer) (Customer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index, stored := range store.customers {
		if stored.ShopKey == customer.ShopKey && stored.NameNorm == customer.NameNorm {
			store.customers[index].Name = customer.Name
			store.customers[index].PhoneticKey = customer.PhoneticKey
			return store.customers[index], nil
		}
	}
	customer.CustomerID = store.newID("cust")
	customer.ShareLinkID = store.newID("share")
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	store.customers = append(store.customers, customer)
	return customer, nil
}

func (store *stubStore) ListCustomers(_ context.Context, shopKey string) ([]Customer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Customer
	for _, customer := range store.customers {
		if customer.ShopKey == shopKey {
			matched = append(matched, customer)
		}
	}
	return matched, nil
}

func (store *stubStore) GetCustomersByIDs(_ context.Context, customerIDs []string) ([]Customer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	wanted := map[string]bool{}
	for _, customerID := range customerIDs {
		wanted[customerID] = true
	}
	var matched []Customer
	for _, customer := range store.customers {
		if wanted[customer.CustomerID] {
			matched = append(matched, customer)
		}
	}
	return matched, nil
}

func (store *stubStore) InsertUdhaarEntry(_ context.Context, entry UdhaarEntry) (UdhaarEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry.EntryID = store.newID("entry")
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) LatestUnreversedEntry(_ context.Context, shopKey string) (*UdhaarEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var latest *UdhaarEntry
	for index := range store.entries {
		entry := store.entries[index]
		if entry.ShopKey != shopKey || entry.Reversed {
			continue
		}
		if latest == nil || !entry.CreatedAt.Before(latest.CreatedAt) {
			copied := entry
			latest = &copied
		}
	}
	return latest, nil
}

func (store *stubStore) MarkEntryReversed(_ context.Context, entryID string, reversedAt time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.entries {
		if store.entries[index].EntryID == entryID {
			store.entries[index].Reversed = true
			store.entries[index].ReversedAt = &reversedAt
		}
	}
	return nil
}

func (store *stubStore) ListRecentEntries(_ context.Context, shopKey string, limit int) ([]UdhaarEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []UdhaarEntry
	for index := len(store.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		if store.entries[index].ShopKey == shopKey {
			matched = append(matched, store.entries[index])
		}
	}
	return matched, nil
}

func (store *stubStore) ListEntriesForCustomers(_ context.Context, shopKey string, customerIDs []string, limit int) ([]UdhaarEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	wanted := map[string]bool{}
	for _, customerID := range customerIDs {
		wanted[customerID] = true
	}
	var matched []UdhaarEntry
	for index := len(store.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		entry := store.entries[index]
		if entry.ShopKey == shopKey && wanted[entry.CustomerID] {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (store *stubStore) CreatePendingAction(_ context.Context, action PendingAction) (PendingAction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	action.ActionID = store.newID("action")
	store.pendings = append(store.pendings, action)
	return action, nil
}

func (store *stubStore) GetPendingAction(_ context.Context, actionID string) (*PendingAction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.pendings {
		if store.pendings[index].ActionID == actionID {
			copied := store.pendings[index]
			return &copied, nil
		}
	}
	return nil, nil
}

func (store *stubStore) LatestPendingAction(_ context.Context, shopKey string, now time.Time) (*PendingAction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var latest *PendingAction
	for index := range store.pendings {
		action := store.pendings[index]
		if action.ShopKey != shopKey || action.Status != PendingStatusPending || !action.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || !action.CreatedAt.Before(latest.CreatedAt) {
			copied := action
			latest = &copied
		}
	}
	return latest, nil
}

func (store *stubStore) ExpirePendingActions(_ context.Context, shopKey string, now time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.pendings {
		action := &store.pendings[index]
		if action.ShopKey == shopKey && action.Status == PendingStatusPending && !action.ExpiresAt.After(now) {
			action.Status = PendingStatusExpired
		}
	}
	return nil
}

func (store *stubStore) TransitionPendingAction(_ context.Context, actionID string, to PendingStatus) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.pendings {
		if store.pendings[index].ActionID == actionID && store.pendings[index].Status == PendingStatusPending {
			store.pendings[index].Status = to
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) FindProductByNorm(_ context.Context, shopKey string, nameNorm string) (*Product, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.products {
		if store.products[index].ShopKey == shopKey && store.products[index].NameNorm == nameNorm {
			copied := store.products[index]
			return &copied, nil
		}
	}
	return nil, nil
}

func (store *stubStore) CreateProduct(_ context.Context, product Product) (Product, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	product.ProductID = store.newID("prod")
	store.products = append(store.products, product)
	return product, nil
}

func (store *stubStore) AdjustProductStock(_ context.Context, productID string, delta float64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.products {
		if store.products[index].ProductID == productID {
			store.products[index].Stock += delta
		}
	}
	return nil
}

func (store *stubStore) UpdateProductCostPrice(_ context.Context, productID string, costPrice float64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.products {
		if store.products[index].ProductID == productID {
			store.products[index].CostPrice = &costPrice
		}
	}
	return nil
}

func (store *stubStore) InsertInventoryLog(_ context.Context, logEntry InventoryLog) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	logEntry.LogID = store.newID("invlog")
	store.inventoryLogs = append(store.inventoryLogs, logEntry)
	return nil
}

func (store *stubStore) CreatePaymentHold(_ context.Context, hold PaymentHold) (PaymentHold, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	hold.HoldID = store.newID("hold")
	store.holds = append(store.holds, hold)
	return hold, nil
}

func (store *stubStore) GetPaymentHold(_ context.Context, holdID string) (*PaymentHold, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.holds {
		if store.holds[index].HoldID == holdID {
			copied := store.holds[index]
			return &copied, nil
		}
	}
	return nil, nil
}

func (store *stubStore) ListDuePaymentHolds(_ context.Context, shopKey string, dueCutoff time.Time, notifiedBefore time.Time) ([]PaymentHold, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var due []PaymentHold
	for _, hold := range store.holds {
		if hold.ShopKey != shopKey || hold.Status != HoldStatusOpen {
			continue
		}
		reference := hold.CreatedAt
		if hold.DueAt != nil {
			reference = *hold.DueAt
		}
		if reference.After(dueCutoff) {
			continue
		}
		if hold.LastNotifiedAt != nil && hold.LastNotifiedAt.After(notifiedBefore) {
			continue
		}
		due = append(due, hold)
	}
	return due, nil
}

func (store *stubStore) UpdatePaymentHoldNotified(_ context.Context, holdID string, notifyCount int, notifiedAt time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.holds {
		if store.holds[index].HoldID == holdID {
			store.holds[index].NotifyCount = notifyCount
			store.holds[index].LastNotifiedAt = &notifiedAt
		}
	}
	return nil
}

func (store *stubStore) ResolvePaymentHold(_ context.Context, holdID string, resolvedAt time.Time, note string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.holds {
		if store.holds[index].HoldID == holdID && store.holds[index].Status == HoldStatusOpen {
			store.holds[index].Status = HoldStatusResolved
			store.holds[index].ResolvedAt = &resolvedAt
			store.holds[index].ResolvedNote = note
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) InsertNotificationLog(_ context.Context, logEntry NotificationLog) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	logEntry.LogID = store.newID("notif")
	store.notifications = append(store.notifications, logEntry)
	return nil
}

// manualClock is a hand-advanced clock for deterministic expiry tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(delta)
}

func mustShopKey(test *testing.T, raw string) ShopKey {
	test.Helper()
	shop, err := NewShopKey(raw)
	if err != nil {
		test.Fatalf("shop key %q: %v", raw, err)
	}
	return shop
}

func mustResolver(test *testing.T, store Store) *Resolver {
	test.Helper()
	resolver, err := NewResolver(store)
	if err != nil {
		test.Fatalf("resolver: %v", err)
	}
	return resolver
}

func mustLedger(test *testing.T, store Store, resolver *Resolver, now func() time.Time) *Ledger {
	test.Helper()
	ledger, err := NewLedger(store, resolver, now)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	return ledger
}
