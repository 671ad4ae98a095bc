package app

import (
	"github.com/shopspring/decimal"
)

// LineInput is one product line of a sale or purchase order.
type LineInput struct {
	Product     string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal // ignored for purchase orders
	UnitCost    decimal.Decimal
	UnitFreight decimal.Decimal // zero means "use the default freight"
}

// CreateSaleRequest is the input for recording a sale. ClientID wins over ClientName.
type CreateSaleRequest struct {
	IdempotencyKey string
	ClientID       string
	ClientName     string
	Lines          []LineInput
	Notes          string
	InitialPayment decimal.Decimal
	PayInFull      bool
}

// CreatePurchaseOrderRequest is the input for recording a purchase order.
type CreatePurchaseOrderRequest struct {
	IdempotencyKey  string
	DistributorID   string
	DistributorName string
	Lines           []LineInput
	Notes           string
	InitialPayment  decimal.Decimal
	SourceBucket    string
}

type PaySaleRequest struct {
	IdempotencyKey string
	RecordID       string
	Amount         decimal.Decimal
	Note           string
}

type PayClientRequest struct {
	IdempotencyKey string
	ClientID       string
	Amount         decimal.Decimal
	Note           string
}

// PayDistributorRequest pays one purchase order (RecordID set) or the distributor's
// open orders oldest first.
type PayDistributorRequest struct {
	IdempotencyKey string
	DistributorID  string
	RecordID       string
	SourceBucket   string
	Amount         decimal.Decimal
	Note           string
}

type ExpenseRequest struct {
	IdempotencyKey string
	BucketID       string
	Amount         decimal.Decimal
	Note           string
}

type IncomeRequest struct {
	IdempotencyKey string
	BucketID       string
	Amount         decimal.Decimal
	Note           string
}

type TransferRequest struct {
	IdempotencyKey string
	From           string
	To             string
	Amount         decimal.Decimal
	Note           string
}
