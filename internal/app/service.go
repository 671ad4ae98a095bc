package app

import (
	"context"
	"io"
	"time"

	"flowdistributor/internal/ai"
	"flowdistributor/internal/core"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println, no ANSI codes, and no display logic of any kind.
type ApplicationService interface {
	// CreateSale records a sale, creating the client by name if needed, and applies
	// any initial payment in the same atomic unit.
	CreateSale(ctx context.Context, req CreateSaleRequest) (*core.Receipt, error)

	// CreatePurchaseOrder records a debt to a distributor.
	CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*core.Receipt, error)

	// PaySale applies an abono to one sale and distributes it across its buckets.
	PaySale(ctx context.Context, req PaySaleRequest) (*core.Receipt, error)

	// PayClient applies an abono to a client's debt, oldest open sale first.
	PayClient(ctx context.Context, req PayClientRequest) (*core.Receipt, error)

	// PayDistributor pays a distributor out of a bank.
	PayDistributor(ctx context.Context, req PayDistributorRequest) (*core.Receipt, error)

	RecordExpense(ctx context.Context, req ExpenseRequest) (*core.Receipt, error)
	RecordIncome(ctx context.Context, req IncomeRequest) (*core.Receipt, error)
	RecordTransfer(ctx context.Context, req TransferRequest) (*core.Receipt, error)

	// ListBuckets returns every bucket with its current balances.
	ListBuckets(ctx context.Context) (*BucketsResult, error)

	// GetBucketStatement returns the entries touching one bucket with a running balance.
	// from and to are optional (zero means unbounded).
	GetBucketStatement(ctx context.Context, bucketID string, from, to time.Time) (*StatementResult, error)

	// GetRecord returns a sale or purchase order by ID.
	GetRecord(ctx context.Context, id string) (*core.Record, error)

	// ListRecords returns records, oldest first, narrowed by filter.
	ListRecords(ctx context.Context, filter core.RecordFilter) (*RecordsResult, error)

	// ListEntries returns ledger entries in ledger order.
	ListEntries(ctx context.Context, filter core.EntryFilter) (*EntriesResult, error)

	// ExportEntriesCSV writes the entries matching filter to w as CSV, one row per
	// breakdown line.
	ExportEntriesCSV(ctx context.Context, filter core.EntryFilter, w io.Writer) error

	// ListParties returns clients or distributors (kind empty: both) with their derived debt.
	ListParties(ctx context.Context, kind core.PartyKind) (*PartiesResult, error)

	// GetDashboard returns cash, stock, receivable and payable totals.
	GetDashboard(ctx context.Context) (*core.Summary, error)

	// Reconcile replays the ledger and reports drift.
	Reconcile(ctx context.Context) (*core.ReconcileReport, error)

	// InterpretPayment sends a natural-language movement to the AI agent and returns
	// the structured intent, resolved against known parties and records when possible.
	// Nothing is written.
	InterpretPayment(ctx context.Context, text string) (*IntentResult, error)

	// ExecuteIntent runs a previously interpreted intent after human confirmation.
	ExecuteIntent(ctx context.Context, intent ai.PaymentIntent, idempotencyKey string) (*core.Receipt, error)
}
