package khata

import (
	"context"
	"fmt"
	"time"
)

// Holds tracks overdue balances and reminder cadence. It depends only on the
// ledger/customer data shapes, never on the conversational layer.
type Holds struct {
	store Store
	nowFn func() time.Time
}

// NewHolds wires a Holds tracker.
func NewHolds(store Store, now func() time.Time) (*Holds, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Holds{store: store, nowFn: now}, nil
}

// CreateHold opens a hold for a customer's outstanding amount. The display
// name is stored alongside the id so reminders can address the customer
// without a join.
func (holds *Holds) CreateHold(ctx context.Context, shop ShopKey, customerID string, customerName string, amount float64, dueAt *time.Time, reason string) (PaymentHold, error) {
	if amount <= 0 {
		return PaymentHold{}, fmt.Errorf("%w: hold amount must be positive", ErrInvalidAmount)
	}
	return holds.store.CreatePaymentHold(ctx, PaymentHold{
		ShopKey:      shop.String(),
		CustomerID:   customerID,
		CustomerName: customerName,
		Amount:       amount,
		Status:       HoldStatusOpen,
		DueAt:        dueAt,
		Reason:       reason,
		CreatedAt:    holds.nowFn().UTC(),
	})
}

// ListDue returns open holds that are due and out of the notification
// cooldown: due_at (or created_at when due_at is unset) at least cutoffDays
// old, and last_notified_at unset or older than cooldownHours.
func (holds *Holds) ListDue(ctx context.Context, shop ShopKey, cutoffDays int, cooldownHours int) ([]PaymentHold, error) {
	now := holds.nowFn().UTC()
	dueCutoff := now.Add(-time.Duration(cutoffDays) * 24 * time.Hour)
	notifiedBefore := now.Add(-time.Duration(cooldownHours) * time.Hour)
	return holds.store.ListDuePaymentHolds(ctx, shop.String(), dueCutoff, notifiedBefore)
}

// MarkNotified increments the notify counter and stamps the notification
// time. This is a read-then-write pair, not an atomic increment: overlapping
// reminder runs can under-count. Acceptable while reminder jobs do not
// overlap.
func (holds *Holds) MarkNotified(ctx context.Context, holdID string) error {
	hold, err := holds.store.GetPaymentHold(ctx, holdID)
	if err != nil {
		return err
	}
	if hold == nil {
		return nil
	}
	return holds.store.UpdatePaymentHoldNotified(ctx, holdID, hold.NotifyCount+1, holds.nowFn().UTC())
}

// Resolve closes a hold with a timestamp and note. Resolved is terminal;
// resolving an already-resolved or absent hold reports false.
func (holds *Holds) Resolve(ctx context.Context, holdID string, note string) (bool, error) {
	return holds.store.ResolvePaymentHold(ctx, holdID, holds.nowFn().UTC(), note)
}
