package khata

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TxnItem is one line item from an upstream transaction.
type TxnItem struct {
	Name      string
	Quantity  float64
	CostPrice float64
}

// TxnStatus classifies the outcome of an inventory transaction.
type TxnStatus string

const (
	TxnOK    TxnStatus = "ok"
	TxnError TxnStatus = "error"
)

// SaleLine is one fully validated and applied sale line.
type SaleLine struct {
	Product   Product
	Quantity  float64
	UnitPrice float64
	LineTotal float64
}

// StockShortage reports one line that asked for more than is available.
type StockShortage struct {
	Name      string
	Available float64
	Requested float64
}

// SaleResult carries either the applied sale or every validation failure
// across all lines. Business rejections live here as values, never as errors.
type SaleResult struct {
	Status            TxnStatus
	Total             float64
	Lines             []SaleLine
	MissingProducts   []string
	MissingPrices     []string
	InsufficientStock []StockShortage
}

// RestockLine is one applied restock line.
type RestockLine struct {
	Product  Product
	Quantity float64
	Created  bool
}

// RestockResult summarizes a best-effort restock.
type RestockResult struct {
	Status TxnStatus
	Total  float64
	Lines  []RestockLine
}

// Inventory resolves products by name and applies stock-affecting
// transactions against a Store.
type Inventory struct {
	store Store
	nowFn func() time.Time
}

// NewInventory wires an Inventory.
func NewInventory(store Store, now func() time.Time) (*Inventory, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Inventory{store: store, nowFn: now}, nil
}

// ApplySale validates every line exhaustively before touching anything:
// product resolvable, selling price defined, stock sufficient. All failures
// across all lines are collected and returned together, and no stock or log
// mutation happens unless every line passes. A sale is never partially
// applied.
//
// Two overlapping sales can still both pass validation against the same
// stock and overdraw it; there is no lock between the read and the
// decrement. Callers should not assume this race is closed.
func (inventory *Inventory) ApplySale(ctx context.Context, shop ShopKey, items []TxnItem) (SaleResult, error) {
	result := SaleResult{Status: TxnOK}

	type plannedLine struct {
		product  Product
		quantity float64
		price    float64
	}
	var planned []plannedLine

	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Quantity <= 0 {
			result.MissingProducts = append(result.MissingProducts, item.Name)
			continue
		}
		product, err := inventory.store.FindProductByNorm(ctx, shop.String(), NormalizeName(name))
		if err != nil {
			return SaleResult{}, err
		}
		if product == nil {
			result.MissingProducts = append(result.MissingProducts, name)
			continue
		}
		if product.SellingPrice == nil {
			result.MissingPrices = append(result.MissingPrices, product.Name)
			continue
		}
		if product.Stock < item.Quantity {
			result.InsufficientStock = append(result.InsufficientStock, StockShortage{
				Name:      product.Name,
				Available: product.Stock,
				Requested: item.Quantity,
			})
			continue
		}
		planned = append(planned, plannedLine{product: *product, quantity: item.Quantity, price: *product.SellingPrice})
	}

	if len(result.MissingProducts) > 0 || len(result.MissingPrices) > 0 || len(result.InsufficientStock) > 0 {
		result.Status = TxnError
		return result, nil
	}

	now := inventory.nowFn().UTC()
	for _, line := range planned {
		if err := inventory.store.AdjustProductStock(ctx, line.product.ProductID, -line.quantity); err != nil {
			return SaleResult{}, err
		}
		if err := inventory.store.InsertInventoryLog(ctx, InventoryLog{
			ProductID:  line.product.ProductID,
			ChangeType: StockChangeSale,
			Quantity:   -line.quantity,
			Notes:      fmt.Sprintf("sale of %g %s", line.quantity, line.product.Name),
			CreatedAt:  now,
		}); err != nil {
			return SaleResult{}, err
		}
		lineTotal := line.price * line.quantity
		result.Lines = append(result.Lines, SaleLine{
			Product:   line.product,
			Quantity:  line.quantity,
			UnitPrice: line.price,
			LineTotal: lineTotal,
		})
		result.Total += lineTotal
	}
	return result, nil
}

// ApplyRestock commits each line independently with a deliberately looser
// policy than sales: restocks cannot oversell, so best-effort per-line commit
// is acceptable. Lines with an empty name or non-positive quantity are
// skipped, and an unknown product is auto-created with zero initial stock.
func (inventory *Inventory) ApplyRestock(ctx context.Context, shop ShopKey, items []TxnItem) (RestockResult, error) {
	result := RestockResult{Status: TxnOK}
	now := inventory.nowFn().UTC()

	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Quantity <= 0 {
			continue
		}

		product, err := inventory.store.FindProductByNorm(ctx, shop.String(), NormalizeName(name))
		if err != nil {
			return RestockResult{}, err
		}
		created := false
		if product == nil {
			fresh := Product{
				ShopKey:   shop.String(),
				Name:      name,
				NameNorm:  NormalizeName(name),
				CreatedAt: now,
			}
			if item.CostPrice > 0 {
				costPrice := item.CostPrice
				fresh.CostPrice = &costPrice
			}
			stored, err := inventory.store.CreateProduct(ctx, fresh)
			if err != nil {
				return RestockResult{}, err
			}
			product = &stored
			created = true
		}

		if err := inventory.store.AdjustProductStock(ctx, product.ProductID, item.Quantity); err != nil {
			return RestockResult{}, err
		}
		if !created && item.CostPrice > 0 {
			if err := inventory.store.UpdateProductCostPrice(ctx, product.ProductID, item.CostPrice); err != nil {
				return RestockResult{}, err
			}
		}
		if err := inventory.store.InsertInventoryLog(ctx, InventoryLog{
			ProductID:  product.ProductID,
			ChangeType: StockChangeRestock,
			Quantity:   item.Quantity,
			Notes:      fmt.Sprintf("restock of %g %s", item.Quantity, product.Name),
			CreatedAt:  now,
		}); err != nil {
			return RestockResult{}, err
		}

		result.Lines = append(result.Lines, RestockLine{Product: *product, Quantity: item.Quantity, Created: created})
		if item.CostPrice > 0 {
			result.Total += item.CostPrice * item.Quantity
		}
	}
	return result, nil
}
