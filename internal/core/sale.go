package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultUnitFreight is the freight charged per unit sold when a line does not set one.
var DefaultUnitFreight = decimal.NewFromInt(500)

// SaleBuckets names the buckets a sale's total is split across.
type SaleBuckets struct {
	Freight string
	Vault   string
	Profit  string
}

// DefaultSaleBuckets returns the standard freight / vault / profit buckets.
func DefaultSaleBuckets() SaleBuckets {
	return SaleBuckets{Freight: "fletes", Vault: "boveda_monte", Profit: "utilidades"}
}

// LineInput is one product line of a new sale or purchase order.
// UnitFreight zero means "use the default freight"; it is ignored for purchase orders.
type LineInput struct {
	Product     string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	UnitFreight decimal.Decimal
}

// BuildSaleRecord builds a Pending sale from its lines.
//
//	total   = Σ qty × unit price
//	freight = Σ qty × unit freight
//	vault   = Σ qty × unit cost
//	profit  = total - freight - vault
//
// A sale priced below cost plus freight would need a negative profit base and is rejected.
func BuildSaleRecord(id, partyID string, lines []LineInput, buckets SaleBuckets, defaultFreight decimal.Decimal) (Record, error) {
	if len(lines) == 0 {
		return Record{}, reject(ErrInvalidRecord, "sale needs at least one line")
	}

	total, freight, vault := decimal.Zero, decimal.Zero, decimal.Zero
	recLines := make([]RecordLine, 0, len(lines))
	for i, l := range lines {
		if err := validateLine(i, l); err != nil {
			return Record{}, err
		}
		if !l.UnitPrice.IsPositive() {
			return Record{}, reject(ErrInvalidRecord, "line %d: unit price must be positive", i+1)
		}
		unitFreight := l.UnitFreight
		if unitFreight.IsZero() {
			unitFreight = defaultFreight
		}
		if unitFreight.IsNegative() {
			return Record{}, reject(ErrInvalidRecord, "line %d: negative freight", i+1)
		}

		total = total.Add(l.Quantity.Mul(l.UnitPrice))
		freight = freight.Add(l.Quantity.Mul(unitFreight))
		vault = vault.Add(l.Quantity.Mul(l.UnitCost))
		recLines = append(recLines, RecordLine{
			Product:     l.Product,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			UnitCost:    l.UnitCost,
			UnitFreight: unitFreight,
		})
	}
	total = total.Round(minorUnitPlaces)
	freight = freight.Round(minorUnitPlaces)
	vault = vault.Round(minorUnitPlaces)

	profit := total.Sub(freight).Sub(vault)
	if profit.IsNegative() {
		return Record{}, reject(ErrInvalidRecord, "sale total %s is below cost %s plus freight %s",
			total.StringFixed(2), vault.StringFixed(2), freight.StringFixed(2))
	}

	r := Record{
		ID:      id,
		Kind:    RecordKindSale,
		PartyID: partyID,
		Total:   total,
		Bases: []BaseShare{
			{BucketID: buckets.Freight, Amount: freight},
			{BucketID: buckets.Vault, Amount: vault},
			{BucketID: buckets.Profit, Amount: profit},
		},
		Lines:      recLines,
		PaidToDate: decimal.Zero,
		Status:     StatusPending,
	}
	if err := ValidateRecord(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// BuildPurchaseOrderRecord builds a Pending purchase order owed to a distributor.
// Its whole total is based on purchaseBucket, the fund that tracks stock at cost.
func BuildPurchaseOrderRecord(id, partyID string, lines []LineInput, purchaseBucket string) (Record, error) {
	if len(lines) == 0 {
		return Record{}, reject(ErrInvalidRecord, "purchase order needs at least one line")
	}

	total := decimal.Zero
	recLines := make([]RecordLine, 0, len(lines))
	for i, l := range lines {
		if err := validateLine(i, l); err != nil {
			return Record{}, err
		}
		total = total.Add(l.Quantity.Mul(l.UnitCost))
		recLines = append(recLines, RecordLine{Product: l.Product, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	total = total.Round(minorUnitPlaces)

	r := Record{
		ID:         id,
		Kind:       RecordKindPurchaseOrder,
		PartyID:    partyID,
		Total:      total,
		Bases:      []BaseShare{{BucketID: purchaseBucket, Amount: total}},
		Lines:      recLines,
		PaidToDate: decimal.Zero,
		Status:     StatusPending,
	}
	if err := ValidateRecord(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func validateLine(i int, l LineInput) error {
	if !l.Quantity.IsPositive() {
		return reject(ErrInvalidRecord, "line %d: quantity must be positive", i+1)
	}
	if !l.UnitCost.IsPositive() {
		return reject(ErrInvalidRecord, "line %d: unit cost must be positive", i+1)
	}
	return nil
}

// RecordNumber formats the human-facing number of the seq-th record of a kind:
// V-000042 for sales, OC-000007 for purchase orders.
func RecordNumber(kind RecordKind, seq int64) string {
	prefix := "V"
	if kind == RecordKindPurchaseOrder {
		prefix = "OC"
	}
	return fmt.Sprintf("%s-%06d", prefix, seq)
}
