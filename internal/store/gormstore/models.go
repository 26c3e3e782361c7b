package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Customer represents the customers table. One live row per
// (shop_phone, name_norm).
type Customer struct {
	CustomerID  string    `gorm:"type:uuid;primaryKey"`
	ShopPhone   string    `gorm:"not null;index:idx_customers_shop_norm,unique,priority:1"`
	Name        string    `gorm:"not null"`
	NameNorm    string    `gorm:"not null;index:idx_customers_shop_norm,unique,priority:2"`
	PhoneticKey string    `gorm:""`
	ShareLinkID string    `gorm:"type:uuid"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

func (customer *Customer) BeforeCreate(tx *gorm.DB) error {
	if customer.CustomerID == "" {
		customer.CustomerID = uuid.NewString()
	}
	return nil
}

// UdhaarEntry mirrors the udhaar_entries table. Append-only; reversal is the
// only permitted mutation.
type UdhaarEntry struct {
	EntryID         string     `gorm:"type:uuid;primaryKey"`
	ShopPhone       string     `gorm:"not null;index:idx_udhaar_shop_created,priority:1"`
	CustomerID      string     `gorm:"type:uuid;not null;index"`
	Amount          float64    `gorm:"not null"`
	Transcript      string     `gorm:""`
	RawText         string     `gorm:""`
	SourceMessageID string     `gorm:""`
	Reversed        bool       `gorm:"not null;default:false"`
	ReversedAt      *time.Time `gorm:""`
	CreatedAt       time.Time  `gorm:"not null;index:idx_udhaar_shop_created,priority:2"`
}

func (UdhaarEntry) TableName() string { return "udhaar_entries" }

func (entry *UdhaarEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// PendingAction mirrors the pending_actions table.
type PendingAction struct {
	ActionID   string         `gorm:"type:uuid;primaryKey"`
	ShopPhone  string         `gorm:"not null;index:idx_pending_shop_status,priority:1"`
	ActionType string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	Status     string         `gorm:"not null;index:idx_pending_shop_status,priority:2"`
	CreatedAt  time.Time      `gorm:"not null"`
	ExpiresAt  time.Time      `gorm:"not null"`
}

func (PendingAction) TableName() string { return "pending_actions" }

func (action *PendingAction) BeforeCreate(tx *gorm.DB) error {
	if action.ActionID == "" {
		action.ActionID = uuid.NewString()
	}
	return nil
}

// Product mirrors the products table.
type Product struct {
	ProductID    string    `gorm:"type:uuid;primaryKey"`
	ShopPhone    string    `gorm:"not null;index:idx_products_shop_norm,unique,priority:1"`
	Name         string    `gorm:"not null"`
	NameNorm     string    `gorm:"not null;index:idx_products_shop_norm,unique,priority:2"`
	Stock        float64   `gorm:"not null;default:0"`
	Unit         string    `gorm:""`
	SellingPrice *float64  `gorm:""`
	CostPrice    *float64  `gorm:""`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (product *Product) BeforeCreate(tx *gorm.DB) error {
	if product.ProductID == "" {
		product.ProductID = uuid.NewString()
	}
	return nil
}

// InventoryLog mirrors the inventory_logs table, one row per stock mutation.
type InventoryLog struct {
	LogID      string    `gorm:"type:uuid;primaryKey"`
	ProductID  string    `gorm:"type:uuid;not null;index"`
	ChangeType string    `gorm:"not null"`
	Quantity   float64   `gorm:"not null"`
	Notes      string    `gorm:""`
	CreatedAt  time.Time `gorm:"not null"`
}

func (InventoryLog) TableName() string { return "inventory_logs" }

func (logEntry *InventoryLog) BeforeCreate(tx *gorm.DB) error {
	if logEntry.LogID == "" {
		logEntry.LogID = uuid.NewString()
	}
	return nil
}

// PaymentHold mirrors the payment_holds table.
type PaymentHold struct {
	HoldID         string     `gorm:"type:uuid;primaryKey"`
	ShopPhone      string     `gorm:"not null;index:idx_holds_shop_status,priority:1"`
	CustomerID     string     `gorm:"type:uuid;not null"`
	CustomerName   string     `gorm:""`
	Amount         float64    `gorm:"not null"`
	Status         string     `gorm:"not null;index:idx_holds_shop_status,priority:2"`
	DueAt          *time.Time `gorm:""`
	Reason         string     `gorm:""`
	NotifyCount    int        `gorm:"not null;default:0"`
	LastNotifiedAt *time.Time `gorm:""`
	ResolvedAt     *time.Time `gorm:""`
	ResolvedNote   string     `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
}

func (PaymentHold) TableName() string { return "payment_holds" }

func (hold *PaymentHold) BeforeCreate(tx *gorm.DB) error {
	if hold.HoldID == "" {
		hold.HoldID = uuid.NewString()
	}
	return nil
}

// NotificationLog mirrors the notification_logs table.
type NotificationLog struct {
	LogID       string    `gorm:"type:uuid;primaryKey"`
	ShopPhone   string    `gorm:"not null;index"`
	Channel     string    `gorm:"not null"`
	Type        string    `gorm:"not null"`
	EntityTable string    `gorm:""`
	EntityID    string    `gorm:""`
	Message     string    `gorm:""`
	Status      string    `gorm:"not null"`
	Error       string    `gorm:""`
	CreatedAt   time.Time `gorm:"not null"`
}

func (NotificationLog) TableName() string { return "notification_logs" }

func (logEntry *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if logEntry.LogID == "" {
		logEntry.LogID = uuid.NewString()
	}
	return nil
}

// Tables lists every model for migration.
func Tables() []any {
	return []any{
		&Customer{},
		&UdhaarEntry{},
		&PendingAction{},
		&Product{},
		&InventoryLog{},
		&PaymentHold{},
		&NotificationLog{},
	}
}
