package khata

import "context"

// LedgerOption configures a Ledger instance.
type LedgerOption func(*Ledger)

// OperationLogger records domain-level events emitted by ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation  string
	ShopKey    string
	CustomerID string
	EntryID    string
	Amount     float64
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every
// mutating ledger operation.
func WithOperationLogger(logger OperationLogger) LedgerOption {
	return func(ledger *Ledger) {
		ledger.logger = logger
	}
}
