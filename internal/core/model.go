package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalTarget is the breakdown target for money leaving the system (expenses).
const ExternalTarget = "external"

type RecordKind string

const (
	RecordKindSale          RecordKind = "sale"
	RecordKindPurchaseOrder RecordKind = "purchase_order"
)

type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusPartial RecordStatus = "partial"
	StatusPaid    RecordStatus = "paid"
)

// BaseShare is the portion of a record's total attributed to one bucket.
type BaseShare struct {
	BucketID string          `json:"bucket_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// RecordLine is one product line of a sale or purchase order. Lines are kept for
// reference only; money moves according to the record's Bases.
type RecordLine struct {
	Product     string          `json:"product"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitFreight decimal.Decimal `json:"unit_freight"`
}

// Record is a sale (a client owes us) or a purchase order (we owe a distributor).
// Bases are ordered and sum to Total. Status is always derived from PaidToDate and Total.
type Record struct {
	ID         string          `json:"id"`
	Kind       RecordKind      `json:"kind"`
	Number     string          `json:"number"`
	PartyID    string          `json:"party_id"`
	PartyName  string          `json:"party_name,omitempty"` // joined from parties
	Total      decimal.Decimal `json:"total"`
	PaidToDate decimal.Decimal `json:"paid_to_date"`
	Bases      []BaseShare     `json:"bases"`
	Lines      []RecordLine    `json:"lines,omitempty"`
	Status     RecordStatus    `json:"status"`
	Notes      string          `json:"notes"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Outstanding returns Total - PaidToDate.
func (r Record) Outstanding() decimal.Decimal {
	return r.Total.Sub(r.PaidToDate)
}

type BucketKind string

const (
	// BucketKindAccount is a spendable bank or vault; its capital never goes below zero.
	BucketKindAccount BucketKind = "account"
	// BucketKindFund is an accounting-only ledger (e.g. stock at cost). It only accumulates.
	BucketKindFund BucketKind = "fund"
)

// Bucket is a named pool of money.
type Bucket struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Kind            BucketKind      `json:"kind"`
	Capital         decimal.Decimal `json:"capital"`
	HistoricCapital decimal.Decimal `json:"historic_capital"`
	TotalExpenses   decimal.Decimal `json:"total_expenses"`
	TransfersOut    decimal.Decimal `json:"transfers_out"`
	TransfersIn     decimal.Decimal `json:"transfers_in"`
	Version         int64           `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type EntryType string

const (
	EntryIncome   EntryType = "income"
	EntryExpense  EntryType = "expense"
	EntryPayment  EntryType = "payment"
	EntryTransfer EntryType = "transfer"
)

// BreakdownLine is one target of a ledger entry. Target is a bucket ID or ExternalTarget.
type BreakdownLine struct {
	Target string          `json:"target"`
	Amount decimal.Decimal `json:"amount"`
}

// Transaction is an immutable ledger entry. SourceBucket and RecordID are empty when
// the money comes from outside the system or no record is involved.
type Transaction struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Type           EntryType       `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	SourceBucket   string          `json:"source_bucket,omitempty"`
	RecordID       string          `json:"record_id,omitempty"`
	Breakdown      []BreakdownLine `json:"breakdown"`
	Note           string          `json:"note"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PartyKind string

const (
	PartyClient      PartyKind = "client"
	PartyDistributor PartyKind = "distributor"
)

// Party is a client or a distributor. Debt is never stored on the party; see PartyDebt.
type Party struct {
	ID        string    `json:"id"`
	Kind      PartyKind `json:"kind"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PartyDebt is the outstanding balance of a party, derived from its open records.
type PartyDebt struct {
	Party       Party           `json:"party"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	OpenRecords int             `json:"open_records"`
}

// RecordFilter narrows ListRecords. Zero values mean "any".
type RecordFilter struct {
	Kind    RecordKind
	Status  RecordStatus
	PartyID string
}

// EntryFilter narrows ListEntries. Zero values mean "any".
type EntryFilter struct {
	RecordID string
	BucketID string // matches source or any breakdown target
	Type     EntryType
}
