package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranalabs/voicekhata/pkg/khata"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUndefinedTableCode = "42P01"
	sqliteGenericCode    = 1

	errorOperationStore      = "store"
	errorSubjectCustomer     = "customer"
	errorSubjectEntry        = "entry"
	errorSubjectPending      = "pending_action"
	errorSubjectProduct      = "product"
	errorSubjectInventory    = "inventory_log"
	errorSubjectHold         = "payment_hold"
	errorSubjectNotification = "notification_log"
	errorCodeUpsert          = "upsert"
	errorCodeBackfill        = "backfill"
	errorCodeInsert          = "insert"
	errorCodeCreate          = "create"
	errorCodeGet             = "get"
	errorCodeList            = "list"
	errorCodeUpdate          = "update"
	errorCodeExpire          = "expire"
	errorCodeTransition      = "transition"
	errorCodeInvalid         = "invalid"
)

// Store implements khata.Store using GORM over sqlite or postgres.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate provisions every khata table.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(Tables()...)
}

// UpsertCustomer inserts or merges on (shop_phone, name_norm) and returns the
// stored representation, lazily backfilling a missing share link id.
func (store *Store) UpsertCustomer(ctx context.Context, customer khata.Customer) (khata.Customer, error) {
	row := Customer{
		ShopPhone:   customer.ShopKey,
		Name:        customer.Name,
		NameNorm:    customer.NameNorm,
		PhoneticKey: customer.PhoneticKey,
		ShareLinkID: uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "shop_phone"}, {Name: "name_norm"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"name":         customer.Name,
				"phonetic_key": customer.PhoneticKey,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return khata.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeUpsert, err)
	}

	var stored Customer
	err = store.db.WithContext(ctx).
		Where("shop_phone = ? AND name_norm = ?", customer.ShopKey, customer.NameNorm).
		Take(&stored).Error
	if err != nil {
		return khata.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeGet, err)
	}
	if stored.ShareLinkID == "" {
		stored.ShareLinkID = uuid.NewString()
		err = store.db.WithContext(ctx).
			Model(&Customer{}).
			Where("customer_id = ?", stored.CustomerID).
			Update("share_link_id", stored.ShareLinkID).Error
		if err != nil {
			return khata.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeBackfill, err)
		}
	}
	return mapCustomer(stored), nil
}

func (store *Store) ListCustomers(ctx context.Context, shopKey string) ([]khata.Customer, error) {
	var rows []Customer
	err := store.db.WithContext(ctx).
		Where("shop_phone = ?", shopKey).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCustomer, errorCodeList, err)
	}
	customers := make([]khata.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, mapCustomer(row))
	}
	return customers, nil
}

func (store *Store) GetCustomersByIDs(ctx context.Context, customerIDs []string) ([]khata.Customer, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	var rows []Customer
	err := store.db.WithContext(ctx).
		Where("customer_id IN ?", customerIDs).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCustomer, errorCodeList, err)
	}
	customers := make([]khata.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, mapCustomer(row))
	}
	return customers, nil
}

func (store *Store) InsertUdhaarEntry(ctx context.Context, entry khata.UdhaarEntry) (khata.UdhaarEntry, error) {
	row := UdhaarEntry{
		ShopPhone:       entry.ShopKey,
		CustomerID:      entry.CustomerID,
		Amount:          entry.Amount,
		Transcript:      entry.Provenance.Transcript,
		RawText:         entry.Provenance.RawText,
		SourceMessageID: entry.Provenance.SourceMessageID,
		CreatedAt:       entry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return khata.UdhaarEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapUdhaarEntry(row), nil
}

func (store *Store) LatestUnreversedEntry(ctx context.Context, shopKey string) (*khata.UdhaarEntry, error) {
	var row UdhaarEntry
	err := store.db.WithContext(ctx).
		Where("shop_phone = ? AND reversed = ?", shopKey, false).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry := mapUdhaarEntry(row)
	return &entry, nil
}

func (store *Store) MarkEntryReversed(ctx context.Context, entryID string, reversedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&UdhaarEntry{}).
		Where("entry_id = ? AND reversed = ?", entryID, false).
		Updates(map[string]interface{}{"reversed": true, "reversed_at": reversedAt})
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, result.Error)
	}
	return nil
}

func (store *Store) ListRecentEntries(ctx context.Context, shopKey string, limit int) ([]khata.UdhaarEntry, error) {
	var rows []UdhaarEntry
	err := store.db.WithContext(ctx).
		Where("shop_phone = ?", shopKey).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapUdhaarEntries(rows), nil
}

func (store *Store) ListEntriesForCustomers(ctx context.Context, shopKey string, customerIDs []string, limit int) ([]khata.UdhaarEntry, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	var rows []UdhaarEntry
	err := store.db.WithContext(ctx).
		Where("shop_phone = ? AND customer_id IN ?", shopKey, customerIDs).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapUdhaarEntries(rows), nil
}

func (store *Store) CreatePendingAction(ctx context.Context, action khata.PendingAction) (khata.PendingAction, error) {
	row := PendingAction{
		ShopPhone:  action.ShopKey,
		ActionType: action.ActionType.String(),
		Payload:    datatypes.JSON([]byte(action.PayloadJSON)),
		Status:     action.Status.String(),
		CreatedAt:  action.CreatedAt,
		ExpiresAt:  action.ExpiresAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return khata.PendingAction{}, wrapStoreError(errorSubjectPending, errorCodeCreate, err)
	}
	return mapPendingAction(row)
}

func (store *Store) GetPendingAction(ctx context.Context, actionID string) (*khata.PendingAction, error) {
	var row PendingAction
	err := store.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	action, mapErr := mapPendingAction(row)
	if mapErr != nil {
		return nil, mapErr
	}
	return &action, nil
}

func (store *Store) LatestPendingAction(ctx context.Context, shopKey string, now time.Time) (*khata.PendingAction, error) {
	var row PendingAction
	err := store.db.WithContext(ctx).
		Where("shop_phone = ? AND status = ? AND expires_at > ?", shopKey, khata.PendingStatusPending.String(), now).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	action, mapErr := mapPendingAction(row)
	if mapErr != nil {
		return nil, mapErr
	}
	return &action, nil
}

func (store *Store) ExpirePendingActions(ctx context.Context, shopKey string, now time.Time) error {
	err := store.db.WithContext(ctx).
		Model(&PendingAction{}).
		Where("shop_phone = ? AND status = ? AND expires_at <= ?", shopKey, khata.PendingStatusPending.String(), now).
		Update("status", khata.PendingStatusExpired.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeExpire, err)
	}
	return nil
}

// TransitionPendingAction applies a terminal status only when the row is
// still pending. The conditional write is what makes two concurrent
// confirmations resolve to exactly one winner.
func (store *Store) TransitionPendingAction(ctx context.Context, actionID string, to khata.PendingStatus) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&PendingAction{}).
		Where("action_id = ? AND status = ?", actionID, khata.PendingStatusPending.String()).
		Update("status", to.String())
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectPending, errorCodeTransition, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) FindProductByNorm(ctx context.Context, shopKey string, nameNorm string) (*khata.Product, error) {
	var row Product
	err := store.db.WithContext(ctx).
		Where("shop_phone = ? AND name_norm = ?", shopKey, nameNorm).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	product := mapProduct(row)
	return &product, nil
}

func (store *Store) CreateProduct(ctx context.Context, product khata.Product) (khata.Product, error) {
	row := Product{
		ShopPhone:    product.ShopKey,
		Name:         product.Name,
		NameNorm:     product.NameNorm,
		Stock:        product.Stock,
		Unit:         product.Unit,
		SellingPrice: product.SellingPrice,
		CostPrice:    product.CostPrice,
		CreatedAt:    product.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return khata.Product{}, wrapStoreError(errorSubjectProduct, errorCodeCreate, err)
	}
	return mapProduct(row), nil
}

func (store *Store) AdjustProductStock(ctx context.Context, productID string, delta float64) error {
	err := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("product_id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", delta)).Error
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) UpdateProductCostPrice(ctx context.Context, productID string, costPrice float64) error {
	err := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("product_id = ?", productID).
		Update("cost_price", costPrice).Error
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) InsertInventoryLog(ctx context.Context, logEntry khata.InventoryLog) error {
	row := InventoryLog{
		ProductID:  logEntry.ProductID,
		ChangeType: logEntry.ChangeType.String(),
		Quantity:   logEntry.Quantity,
		Notes:      logEntry.Notes,
		CreatedAt:  logEntry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectInventory, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) CreatePaymentHold(ctx context.Context, hold khata.PaymentHold) (khata.PaymentHold, error) {
	row := PaymentHold{
		ShopPhone:    hold.ShopKey,
		CustomerID:   hold.CustomerID,
		CustomerName: hold.CustomerName,
		Amount:       hold.Amount,
		Status:       hold.Status.String(),
		DueAt:        hold.DueAt,
		Reason:       hold.Reason,
		CreatedAt:    hold.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return khata.PaymentHold{}, wrapStoreError(errorSubjectHold, errorCodeCreate, err)
	}
	return mapPaymentHold(row), nil
}

func (store *Store) GetPaymentHold(ctx context.Context, holdID string) (*khata.PaymentHold, error) {
	var row PaymentHold
	err := store.db.WithContext(ctx).
		Where("hold_id = ?", holdID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	hold := mapPaymentHold(row)
	return &hold, nil
}

func (store *Store) ListDuePaymentHolds(ctx context.Context, shopKey string, dueCutoff time.Time, notifiedBefore time.Time) ([]khata.PaymentHold, error) {
	var rows []PaymentHold
	err := store.db.WithContext(ctx).
		Where("shop_phone = ? AND status = ?", shopKey, khata.HoldStatusOpen.String()).
		Where("(due_at IS NOT NULL AND due_at <= ?) OR (due_at IS NULL AND created_at <= ?)", dueCutoff, dueCutoff).
		Where("(last_notified_at IS NULL OR last_notified_at <= ?)", notifiedBefore).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	holds := make([]khata.PaymentHold, 0, len(rows))
	for _, row := range rows {
		holds = append(holds, mapPaymentHold(row))
	}
	return holds, nil
}

func (store *Store) UpdatePaymentHoldNotified(ctx context.Context, holdID string, notifyCount int, notifiedAt time.Time) error {
	err := store.db.WithContext(ctx).
		Model(&PaymentHold{}).
		Where("hold_id = ?", holdID).
		Updates(map[string]interface{}{"notify_count": notifyCount, "last_notified_at": notifiedAt}).Error
	if err != nil {
		return wrapStoreError(errorSubjectHold, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ResolvePaymentHold(ctx context.Context, holdID string, resolvedAt time.Time, note string) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&PaymentHold{}).
		Where("hold_id = ? AND status = ?", holdID, khata.HoldStatusOpen.String()).
		Updates(map[string]interface{}{
			"status":        khata.HoldStatusResolved.String(),
			"resolved_at":   resolvedAt,
			"resolved_note": note,
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectHold, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) InsertNotificationLog(ctx context.Context, logEntry khata.NotificationLog) error {
	row := NotificationLog{
		ShopPhone:   logEntry.ShopKey,
		Channel:     logEntry.Channel,
		Type:        logEntry.Type,
		EntityTable: logEntry.EntityTable,
		EntityID:    logEntry.EntityID,
		Message:     logEntry.Message,
		Status:      logEntry.Status,
		Error:       logEntry.Error,
		CreatedAt:   logEntry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isMissingTable(err) {
		err = khata.ErrSchemaMissing
	}
	return khata.WrapError(errorOperationStore, subject, code, err)
}

// isMissingTable detects the backing store's "table not found" condition so
// it surfaces as a schema-provisioning error rather than a generic failure.
func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTableCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteGenericCode && strings.Contains(sqliteErr.Error(), "no such table")
	}
	return strings.Contains(err.Error(), "no such table")
}

func mapCustomer(row Customer) khata.Customer {
	return khata.Customer{
		CustomerID:  row.CustomerID,
		ShopKey:     row.ShopPhone,
		Name:        row.Name,
		NameNorm:    row.NameNorm,
		PhoneticKey: row.PhoneticKey,
		ShareLinkID: row.ShareLinkID,
		CreatedAt:   row.CreatedAt,
	}
}

func mapUdhaarEntry(row UdhaarEntry) khata.UdhaarEntry {
	return khata.UdhaarEntry{
		EntryID:    row.EntryID,
		ShopKey:    row.ShopPhone,
		CustomerID: row.CustomerID,
		Amount:     row.Amount,
		Provenance: khata.Provenance{
			Transcript:      row.Transcript,
			RawText:         row.RawText,
			SourceMessageID: row.SourceMessageID,
		},
		Reversed:   row.Reversed,
		ReversedAt: row.ReversedAt,
		CreatedAt:  row.CreatedAt,
	}
}

func mapUdhaarEntries(rows []UdhaarEntry) []khata.UdhaarEntry {
	entries := make([]khata.UdhaarEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapUdhaarEntry(row))
	}
	return entries
}

func mapPendingAction(row PendingAction) (khata.PendingAction, error) {
	actionType, err := khata.ParseActionType(row.ActionType)
	if err != nil {
		return khata.PendingAction{}, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
	}
	status, err := khata.ParsePendingStatus(row.Status)
	if err != nil {
		return khata.PendingAction{}, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
	}
	return khata.PendingAction{
		ActionID:    row.ActionID,
		ShopKey:     row.ShopPhone,
		ActionType:  actionType,
		PayloadJSON: string(row.Payload),
		Status:      status,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func mapProduct(row Product) khata.Product {
	return khata.Product{
		ProductID:    row.ProductID,
		ShopKey:      row.ShopPhone,
		Name:         row.Name,
		NameNorm:     row.NameNorm,
		Stock:        row.Stock,
		Unit:         row.Unit,
		SellingPrice: row.SellingPrice,
		CostPrice:    row.CostPrice,
		CreatedAt:    row.CreatedAt,
	}
}

func mapPaymentHold(row PaymentHold) khata.PaymentHold {
	return khata.PaymentHold{
		HoldID:         row.HoldID,
		ShopKey:        row.ShopPhone,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		Amount:         row.Amount,
		Status:         khata.HoldStatus(row.Status),
		DueAt:          row.DueAt,
		Reason:         row.Reason,
		NotifyCount:    row.NotifyCount,
		LastNotifiedAt: row.LastNotifiedAt,
		ResolvedAt:     row.ResolvedAt,
		ResolvedNote:   row.ResolvedNote,
		CreatedAt:      row.CreatedAt,
	}
}
