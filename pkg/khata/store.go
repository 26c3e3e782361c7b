package khata

import (
	"context"
	"time"
)

// Store is the persistence contract used by the khata services. The backing
// store offers filtered reads, inserts (plain or upsert-with-merge), and
// partial updates; it has no multi-statement transactions, so every method is
// one remote call and callers get no atomicity across methods.
type Store interface {
	// Customers.
	//
	// UpsertCustomer is keyed on (shop, normalized name) with
	// merge-on-conflict semantics: repeated calls with cosmetic name
	// variants converge to one row. A missing share link id is backfilled.
	UpsertCustomer(ctx context.Context, customer Customer) (Customer, error)
	ListCustomers(ctx context.Context, shopKey string) ([]Customer, error)
	GetCustomersByIDs(ctx context.Context, customerIDs []string) ([]Customer, error)

	// Ledger entries (append-only).
	InsertUdhaarEntry(ctx context.Context, entry UdhaarEntry) (UdhaarEntry, error)
	LatestUnreversedEntry(ctx context.Context, shopKey string) (*UdhaarEntry, error)
	MarkEntryReversed(ctx context.Context, entryID string, reversedAt time.Time) error
	ListRecentEntries(ctx context.Context, shopKey string, limit int) ([]UdhaarEntry, error)
	ListEntriesForCustomers(ctx context.Context, shopKey string, customerIDs []string, limit int) ([]UdhaarEntry, error)

	// Pending actions.
	//
	// TransitionPendingAction applies the terminal status only when the row
	// is still pending and reports whether this caller won the transition.
	CreatePendingAction(ctx context.Context, action PendingAction) (PendingAction, error)
	GetPendingAction(ctx context.Context, actionID string) (*PendingAction, error)
	LatestPendingAction(ctx context.Context, shopKey string, now time.Time) (*PendingAction, error)
	ExpirePendingActions(ctx context.Context, shopKey string, now time.Time) error
	TransitionPendingAction(ctx context.Context, actionID string, to PendingStatus) (bool, error)

	// Products and inventory logs.
	FindProductByNorm(ctx context.Context, shopKey string, nameNorm string) (*Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	AdjustProductStock(ctx context.Context, productID string, delta float64) error
	UpdateProductCostPrice(ctx context.Context, productID string, costPrice float64) error
	InsertInventoryLog(ctx context.Context, logEntry InventoryLog) error

	// Payment holds and the reminder audit trail.
	CreatePaymentHold(ctx context.Context, hold PaymentHold) (PaymentHold, error)
	GetPaymentHold(ctx context.Context, holdID string) (*PaymentHold, error)
	ListDuePaymentHolds(ctx context.Context, shopKey string, dueCutoff time.Time, notifiedBefore time.Time) ([]PaymentHold, error)
	UpdatePaymentHoldNotified(ctx context.Context, holdID string, notifyCount int, notifiedAt time.Time) error
	ResolvePaymentHold(ctx context.Context, holdID string, resolvedAt time.Time, note string) (bool, error)
	InsertNotificationLog(ctx context.Context, logEntry NotificationLog) error
}
