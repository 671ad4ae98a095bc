package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocation is the part of a lump payment applied to one record.
type Allocation struct {
	Record Record
	Amount decimal.Decimal
}

// AllocateOldestFirst spreads amount over the open records, oldest first, filling each
// record's outstanding balance before moving to the next. Paid records are skipped.
func AllocateOldestFirst(records []Record, amount decimal.Decimal) ([]Allocation, error) {
	if !amount.IsPositive() {
		return nil, reject(ErrInvalidAmount, "amount must be positive, got %s", amount.String())
	}

	open := make([]Record, 0, len(records))
	outstanding := decimal.Zero
	for _, r := range records {
		if r.Outstanding().IsPositive() {
			open = append(open, r)
			outstanding = outstanding.Add(r.Outstanding())
		}
	}
	if amount.GreaterThan(outstanding) {
		return nil, reject(ErrOverpayment, "cannot pay %s: outstanding balance is %s", amount.StringFixed(2), outstanding.StringFixed(2))
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].Number < open[j].Number
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})

	var out []Allocation
	left := amount
	for _, r := range open {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(left, r.Outstanding())
		out = append(out, Allocation{Record: r, Amount: take})
		left = left.Sub(take)
	}
	return out, nil
}
