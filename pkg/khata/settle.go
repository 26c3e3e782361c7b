package khata

import (
	"context"
	"fmt"
	"math"
	"time"
)

// SettleRequest describes one confirmed transaction to settle: who, how the
// money moves, and which stock lines are involved.
type SettleRequest struct {
	CustomerName   string
	Kind           TransactionKind
	AmountOverride float64
	Items          []TxnItem
	Provenance     Provenance
}

// SettleResult is the structured outcome of a settlement. When Status is
// TxnError the sale failed validation and no ledger entry was written.
type SettleResult struct {
	Status   TxnStatus
	Customer Customer
	Kind     TransactionKind
	Amount   float64
	Entry    *UdhaarEntry
	Sale     *SaleResult
	Restock  *RestockResult
	NewTotal float64
}

// Settlement couples stock mutation to money movement. Inventory validation
// happens-before any money is recorded, so a sale is never recorded as owed
// without having actually been fulfillable.
type Settlement struct {
	store     Store
	resolver  *Resolver
	ledger    *Ledger
	inventory *Inventory
	nowFn     func() time.Time
}

// NewSettlement wires a Settlement.
func NewSettlement(store Store, resolver *Resolver, ledger *Ledger, inventory *Inventory, now func() time.Time) (*Settlement, error) {
	if store == nil || resolver == nil || ledger == nil || inventory == nil {
		return nil, fmt.Errorf("%w: settlement dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Settlement{store: store, resolver: resolver, ledger: ledger, inventory: inventory, nowFn: now}, nil
}

// Settle resolves or creates the customer, applies the inventory side of the
// transaction, and writes a single signed ledger entry:
//
//   - RESTOCK: pure stock movement, amount forced to zero, no ledger entry.
//   - Credit sale with line items: ApplySale runs first and any validation
//     error aborts the whole settlement with that structured result.
//   - PAYMENT: the magnitude is written negative, reducing the balance.
//   - Credit (default): the magnitude is written positive.
//
// The final amount is the explicit override when positive, else the sum of
// item line totals. After writing, the customer's updated total is recomputed
// for confirmation messaging.
func (settlement *Settlement) Settle(ctx context.Context, shop ShopKey, request SettleRequest) (SettleResult, error) {
	customer, err := settlement.resolver.GetOrCreate(ctx, shop, request.CustomerName)
	if err != nil {
		return SettleResult{}, err
	}

	result := SettleResult{Status: TxnOK, Customer: customer, Kind: request.Kind}

	if request.Kind == KindRestock {
		restock, err := settlement.inventory.ApplyRestock(ctx, shop, request.Items)
		if err != nil {
			return SettleResult{}, err
		}
		result.Restock = &restock
		return result, nil
	}

	if len(request.Items) > 0 && request.Kind == KindCredit {
		sale, err := settlement.inventory.ApplySale(ctx, shop, request.Items)
		if err != nil {
			return SettleResult{}, err
		}
		result.Sale = &sale
		if sale.Status == TxnError {
			result.Status = TxnError
			return result, nil
		}
	}

	amount := request.AmountOverride
	if amount <= 0 && result.Sale != nil {
		amount = result.Sale.Total
	}
	if request.Kind == KindPayment {
		amount = -math.Abs(amount)
	} else {
		amount = math.Abs(amount)
	}
	result.Amount = amount

	entry, err := settlement.ledger.Insert(ctx, shop, customer.CustomerID, amount, request.Provenance)
	if err != nil {
		return SettleResult{}, err
	}
	result.Entry = &entry

	newTotal, err := settlement.ledger.totalForCustomer(ctx, shop, customer.CustomerID)
	if err != nil {
		return SettleResult{}, err
	}
	result.NewTotal = newTotal
	return result, nil
}
