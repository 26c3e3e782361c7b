package khata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	summaryWindow      = 500
	customerTotalLimit = 1000
	recentEntriesMax   = 200

	operationInsert   = "insert"
	operationUndoLast = "undo_last"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// LookupStatus classifies a customer-total lookup outcome. Business outcomes
// are values, not errors, so conversational flows can render specific copy.
type LookupStatus string

const (
	LookupOK       LookupStatus = "ok"
	LookupNotFound LookupStatus = "not_found"
)

// Ledger contains the append-only udhaar logic over a Store.
type Ledger struct {
	store    Store
	resolver *Resolver
	nowFn    func() time.Time
	logger   OperationLogger
}

// NewLedger wires a Ledger.
func NewLedger(store Store, resolver *Resolver, now func() time.Time, options ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: resolver dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	ledger := &Ledger{store: store, resolver: resolver, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger, nil
}

// Insert appends one signed entry. Positive increases what the customer owes,
// negative records a payment.
func (ledger *Ledger) Insert(ctx context.Context, shop ShopKey, customerID string, amount float64, provenance Provenance) (UdhaarEntry, error) {
	entry, operationError := ledger.store.InsertUdhaarEntry(ctx, UdhaarEntry{
		ShopKey:    shop.String(),
		CustomerID: customerID,
		Amount:     amount,
		Provenance: provenance,
		CreatedAt:  ledger.nowFn().UTC(),
	})
	ledger.logOperation(ctx, OperationLog{
		Operation:  operationInsert,
		ShopKey:    shop.String(),
		CustomerID: customerID,
		EntryID:    entry.EntryID,
		Amount:     amount,
		Error:      operationError,
	})
	return entry, operationError
}

// UndoLast flips the most recently created unreversed entry to reversed and
// returns it. Returns nil when there is nothing to undo. Repeated calls walk
// backward through history one entry at a time.
func (ledger *Ledger) UndoLast(ctx context.Context, shop ShopKey) (*UdhaarEntry, error) {
	entry, err := ledger.store.LatestUnreversedEntry(ctx, shop.String())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	reversedAt := ledger.nowFn().UTC()
	operationError := ledger.store.MarkEntryReversed(ctx, entry.EntryID, reversedAt)
	ledger.logOperation(ctx, OperationLog{
		Operation:  operationUndoLast,
		ShopKey:    shop.String(),
		CustomerID: entry.CustomerID,
		EntryID:    entry.EntryID,
		Amount:     entry.Amount,
		Error:      operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	entry.Reversed = true
	entry.ReversedAt = &reversedAt
	return entry, nil
}

// SummaryRow is one customer's net position.
type SummaryRow struct {
	CustomerID   string
	CustomerName string
	Amount       float64
}

// Summary aggregates a bounded recent window of entries per customer, drops
// reversed ones, and sorts descending by amount.
func (ledger *Ledger) Summary(ctx context.Context, shop ShopKey) ([]SummaryRow, error) {
	entries, err := ledger.store.ListRecentEntries(ctx, shop.String(), summaryWindow)
	if err != nil {
		return nil, err
	}

	totals := map[string]float64{}
	for _, entry := range entries {
		if entry.Reversed {
			continue
		}
		totals[entry.CustomerID] += entry.Amount
	}
	if len(totals) == 0 {
		return nil, nil
	}

	names, err := ledger.customerNames(ctx, keysOf(totals))
	if err != nil {
		return nil, err
	}

	rows := make([]SummaryRow, 0, len(totals))
	for customerID, amount := range totals {
		name := names[customerID]
		if name == "" {
			name = customerID
		}
		rows = append(rows, SummaryRow{CustomerID: customerID, CustomerName: name, Amount: amount})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Amount > rows[j].Amount })
	return rows, nil
}

// CustomerAmount is the per-identity share of a merged total.
type CustomerAmount struct {
	Customer Customer
	Amount   float64
}

// CustomerTotalResult reports one merged total across every spelling-variant
// identity the resolver matched, with a per-identity breakdown.
type CustomerTotalResult struct {
	Status      LookupStatus
	Total       float64
	Customers   []CustomerAmount
	Suggestions []string
}

// CustomerTotal resolves the queried name to its candidate identity set and
// sums non-reversed amounts across all of them. An unresolved name propagates
// the resolver's suggestions instead of failing.
func (ledger *Ledger) CustomerTotal(ctx context.Context, shop ShopKey, customerName string) (CustomerTotalResult, error) {
	resolution, err := ledger.resolver.Resolve(ctx, shop, customerName)
	if err != nil {
		return CustomerTotalResult{}, err
	}
	if !resolution.Found() {
		return CustomerTotalResult{Status: LookupNotFound, Suggestions: resolution.Suggestions}, nil
	}

	customerIDs := make([]string, 0, len(resolution.Customers))
	for _, candidate := range resolution.Customers {
		customerIDs = append(customerIDs, candidate.CustomerID)
	}
	entries, err := ledger.store.ListEntriesForCustomers(ctx, shop.String(), customerIDs, customerTotalLimit)
	if err != nil {
		return CustomerTotalResult{}, err
	}

	perCustomer := map[string]float64{}
	var total float64
	for _, entry := range entries {
		if entry.Reversed {
			continue
		}
		perCustomer[entry.CustomerID] += entry.Amount
		total += entry.Amount
	}

	breakdown := make([]CustomerAmount, 0, len(resolution.Customers))
	for _, candidate := range resolution.Customers {
		breakdown = append(breakdown, CustomerAmount{Customer: candidate, Amount: perCustomer[candidate.CustomerID]})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return math.Abs(breakdown[i].Amount) > math.Abs(breakdown[j].Amount)
	})

	return CustomerTotalResult{Status: LookupOK, Total: total, Customers: breakdown}, nil
}

// RecentEntry is one ledger line with its customer name attached.
type RecentEntry struct {
	EntryID      string
	CustomerName string
	Amount       float64
	Reversed     bool
	Transcript   string
	CreatedAt    time.Time
}

// RecentEntries returns the latest entries for a shop with customer names,
// newest first. The limit is clamped to [1, 200].
func (ledger *Ledger) RecentEntries(ctx context.Context, shop ShopKey, limit int) ([]RecentEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > recentEntriesMax {
		limit = recentEntriesMax
	}
	entries, err := ledger.store.ListRecentEntries(ctx, shop.String(), limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	customerIDs := make([]string, 0, len(entries))
	seen := map[string]bool{}
	for _, entry := range entries {
		if !seen[entry.CustomerID] {
			seen[entry.CustomerID] = true
			customerIDs = append(customerIDs, entry.CustomerID)
		}
	}
	names, err := ledger.customerNames(ctx, customerIDs)
	if err != nil {
		return nil, err
	}

	recent := make([]RecentEntry, 0, len(entries))
	for _, entry := range entries {
		name := names[entry.CustomerID]
		if name == "" {
			name = entry.CustomerID
		}
		recent = append(recent, RecentEntry{
			EntryID:      entry.EntryID,
			CustomerName: name,
			Amount:       entry.Amount,
			Reversed:     entry.Reversed,
			Transcript:   entry.Provenance.Transcript,
			CreatedAt:    entry.CreatedAt,
		})
	}
	return recent, nil
}

// CustomerNameByID returns the stored display name for a customer id,
// falling back to the id itself when the row is gone.
func (ledger *Ledger) CustomerNameByID(ctx context.Context, customerID string) (string, error) {
	names, err := ledger.customerNames(ctx, []string{customerID})
	if err != nil {
		return "", err
	}
	if name := names[customerID]; name != "" {
		return name, nil
	}
	return customerID, nil
}

// totalForCustomer recomputes one customer's net balance from non-reversed
// entries. Recomputing is idempotent.
func (ledger *Ledger) totalForCustomer(ctx context.Context, shop ShopKey, customerID string) (float64, error) {
	entries, err := ledger.store.ListEntriesForCustomers(ctx, shop.String(), []string{customerID}, customerTotalLimit)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, entry := range entries {
		if !entry.Reversed {
			total += entry.Amount
		}
	}
	return total, nil
}

func (ledger *Ledger) customerNames(ctx context.Context, customerIDs []string) (map[string]string, error) {
	customers, err := ledger.store.GetCustomersByIDs(ctx, customerIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(customers))
	for _, customer := range customers {
		names[customer.CustomerID] = customer.Name
	}
	return names, nil
}

func (ledger *Ledger) logOperation(ctx context.Context, entry OperationLog) {
	if ledger.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	ledger.logger.LogOperation(ctx, entry)
}

func keysOf(totals map[string]float64) []string {
	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	return keys
}
