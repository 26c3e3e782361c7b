package khata

import (
	"fmt"
	"strings"
	"time"
)

// ShopKey identifies a shop. The transport layer hands us phone-shaped
// identifiers; we only require them to be non-empty after trimming.
type ShopKey struct {
	value string
}

// NewShopKey validates and normalizes a shop identifier to "+<digits>" form
// when it contains digits, mirroring how the transport layer addresses shops.
func NewShopKey(raw string) (ShopKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ShopKey{}, fmt.Errorf("%w: empty value", ErrInvalidShopKey)
	}
	var digits strings.Builder
	for _, ch := range trimmed {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	if digits.Len() > 0 {
		return ShopKey{value: "+" + digits.String()}, nil
	}
	return ShopKey{value: trimmed}, nil
}

// String returns the normalized shop key.
func (key ShopKey) String() string {
	return key.value
}

// ActionType enumerates the mutations a pending action may propose.
type ActionType string

const (
	ActionAddUdhaar         ActionType = "add_udhaar"
	ActionRecordPayment     ActionType = "record_payment"
	ActionUndoLast          ActionType = "undo_last"
	ActionSettleTransaction ActionType = "settle_transaction"
)

// ParseActionType rejects values outside the closed set.
func ParseActionType(raw string) (ActionType, error) {
	switch ActionType(raw) {
	case ActionAddUdhaar, ActionRecordPayment, ActionUndoLast, ActionSettleTransaction:
		return ActionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidActionType, raw)
}

// String returns the wire value.
func (actionType ActionType) String() string {
	return string(actionType)
}

// PendingStatus defines the pending action lifecycle. Every non-pending
// status is terminal.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusConfirmed PendingStatus = "confirmed"
	PendingStatusCancelled PendingStatus = "cancelled"
	PendingStatusExpired   PendingStatus = "expired"
)

// ParsePendingStatus rejects values outside the closed set.
func ParsePendingStatus(raw string) (PendingStatus, error) {
	switch PendingStatus(raw) {
	case PendingStatusPending, PendingStatusConfirmed, PendingStatusCancelled, PendingStatusExpired:
		return PendingStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPendingStatus, raw)
}

// Terminal reports whether the status admits no further transitions.
func (status PendingStatus) Terminal() bool {
	return status != PendingStatusPending
}

// String returns the wire value.
func (status PendingStatus) String() string {
	return string(status)
}

// StockChangeType enumerates inventory log kinds.
type StockChangeType string

const (
	StockChangeSale    StockChangeType = "SALE"
	StockChangeRestock StockChangeType = "RESTOCK"
)

// ParseStockChangeType rejects values outside the closed set.
func ParseStockChangeType(raw string) (StockChangeType, error) {
	switch StockChangeType(raw) {
	case StockChangeSale, StockChangeRestock:
		return StockChangeType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStockChangeType, raw)
}

// String returns the wire value.
func (changeType StockChangeType) String() string {
	return string(changeType)
}

// TransactionKind declares how a settlement moves money.
type TransactionKind string

const (
	KindCredit  TransactionKind = "CREDIT"
	KindPayment TransactionKind = "PAYMENT"
	KindRestock TransactionKind = "RESTOCK"
)

// ParseTransactionKind maps loose upstream strings onto the closed set,
// defaulting to credit the way the conversational layer expects.
func ParseTransactionKind(raw string) TransactionKind {
	switch TransactionKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case KindPayment:
		return KindPayment
	case KindRestock:
		return KindRestock
	}
	return KindCredit
}

// HoldStatus defines the payment hold lifecycle.
type HoldStatus string

const (
	HoldStatusOpen     HoldStatus = "open"
	HoldStatusResolved HoldStatus = "resolved"
)

// String returns the wire value.
func (status HoldStatus) String() string {
	return string(status)
}

// Customer is one stored identity for a shop. At most one live row exists
// per (shop, normalized name); spelling variants may still produce several
// rows that the resolver groups back together.
type Customer struct {
	CustomerID  string
	ShopKey     string
	Name        string
	NameNorm    string
	PhoneticKey string
	ShareLinkID string
	CreatedAt   time.Time
}

// Provenance records where a ledger entry came from.
type Provenance struct {
	Transcript      string
	RawText         string
	SourceMessageID string
}

// UdhaarEntry is a signed monetary record against a customer. Positive
// increases what the customer owes; negative records a payment. Entries are
// append-only; the only permitted mutation is reversed false->true once.
type UdhaarEntry struct {
	EntryID    string
	ShopKey    string
	CustomerID string
	Amount     float64
	Provenance Provenance
	Reversed   bool
	ReversedAt *time.Time
	CreatedAt  time.Time
}

// PendingAction holds a proposed mutation awaiting an explicit YES/NO.
type PendingAction struct {
	ActionID    string
	ShopKey     string
	ActionType  ActionType
	PayloadJSON string
	Status      PendingStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Product is one stock-keeping unit for a shop. SellingPrice is nil until
// the shopkeeper sets one; sales against an unpriced product are rejected.
type Product struct {
	ProductID    string
	ShopKey      string
	Name         string
	NameNorm     string
	Stock        float64
	Unit         string
	SellingPrice *float64
	CostPrice    *float64
	CreatedAt    time.Time
}

// InventoryLog is one append-only stock mutation record.
type InventoryLog struct {
	LogID      string
	ProductID  string
	ChangeType StockChangeType
	Quantity   float64
	Notes      string
	CreatedAt  time.Time
}

// PaymentHold tracks an overdue balance awaiting follow-up.
type PaymentHold struct {
	HoldID         string
	ShopKey        string
	CustomerID     string
	CustomerName   string
	Amount         float64
	Status         HoldStatus
	DueAt          *time.Time
	Reason         string
	NotifyCount    int
	LastNotifiedAt *time.Time
	ResolvedAt     *time.Time
	ResolvedNote   string
	CreatedAt      time.Time
}

// NotificationLog is the audit record of one outbound reminder attempt.
type NotificationLog struct {
	LogID       string
	ShopKey     string
	Channel     string
	Type        string
	EntityTable string
	EntityID    string
	Message     string
	Status      string
	Error       string
	CreatedAt   time.Time
}
