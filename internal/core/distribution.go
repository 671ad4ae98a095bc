package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// minorUnitPlaces is the number of decimal places money is rounded to.
const minorUnitPlaces = 2

// Share is one bucket's part of a payment.
type Share struct {
	BucketID   string          `json:"bucket_id"`
	Proportion decimal.Decimal `json:"proportion"` // base / total
	Amount     decimal.Decimal `json:"amount"`
}

// Distribution is the split of one payment across a record's buckets,
// in the record's base order. The share amounts sum exactly to Amount.
type Distribution struct {
	RecordID string          `json:"record_id"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   []Share         `json:"shares"`
}

// Sum returns the total of all share amounts.
func (d Distribution) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range d.Shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// ValidateRecord checks the structural invariants of a record: positive total,
// non-negative bases summing to the total, and paid-to-date within [0, total].
func ValidateRecord(r Record) error {
	if !r.Total.IsPositive() {
		return reject(ErrInvalidRecord, "record %s has non-positive total %s", r.ID, r.Total.StringFixed(2))
	}
	if len(r.Bases) == 0 {
		return reject(ErrInvalidRecord, "record %s has no bucket bases", r.ID)
	}
	sum := decimal.Zero
	for _, b := range r.Bases {
		if b.BucketID == "" {
			return reject(ErrInvalidRecord, "record %s has a base without bucket", r.ID)
		}
		if b.Amount.IsNegative() {
			return reject(ErrInvalidRecord, "record %s has negative base %s for %s", r.ID, b.Amount.StringFixed(2), b.BucketID)
		}
		sum = sum.Add(b.Amount)
	}
	if !sum.Equal(r.Total) {
		return reject(ErrInvalidRecord, "record %s bases sum to %s, total is %s", r.ID, sum.StringFixed(2), r.Total.StringFixed(2))
	}
	if r.PaidToDate.IsNegative() || r.PaidToDate.GreaterThan(r.Total) {
		return reject(ErrInvalidRecord, "record %s paid to date %s outside [0, %s]", r.ID, r.PaidToDate.StringFixed(2), r.Total.StringFixed(2))
	}
	return nil
}

// ComputeDistribution splits payment across the record's buckets in proportion to
// their bases, in whole cents. Each share starts at its exact value rounded down;
// the cents still missing go one each to the shares with the largest cut-off
// fractions, ties to the later bucket. Every share therefore stays within one cent
// of its exact value, never goes negative, and the shares sum to payment exactly.
// The remainder bucket (the last one with a positive base) wins every tie, so an
// even split leaves the odd cent there. Zero-base buckets always get zero.
func ComputeDistribution(payment decimal.Decimal, record Record) (Distribution, error) {
	if !payment.IsPositive() {
		return Distribution{}, reject(ErrInvalidAmount, "payment must be positive, got %s", payment.String())
	}
	if !payment.Equal(payment.Round(minorUnitPlaces)) {
		return Distribution{}, reject(ErrInvalidAmount, "payment %s has more than %d decimal places", payment.String(), minorUnitPlaces)
	}
	if err := ValidateRecord(record); err != nil {
		return Distribution{}, err
	}
	outstanding := record.Outstanding()
	if payment.GreaterThan(outstanding) {
		return Distribution{}, reject(ErrOverpayment, "cannot pay %s on record %s: outstanding balance is %s",
			payment.StringFixed(2), record.ID, outstanding.StringFixed(2))
	}

	shares := make([]Share, len(record.Bases))
	fractions := make([]decimal.Decimal, len(record.Bases))
	candidates := make([]int, 0, len(record.Bases))
	allocated := decimal.Zero
	for i, b := range record.Bases {
		shares[i] = Share{BucketID: b.BucketID, Proportion: b.Amount.Div(record.Total), Amount: decimal.Zero}
		if !b.Amount.IsPositive() {
			continue
		}
		exact := b.Amount.Mul(payment).Div(record.Total)
		floor := exact.RoundFloor(minorUnitPlaces)
		shares[i].Amount = floor
		fractions[i] = exact.Sub(floor)
		allocated = allocated.Add(floor)
		candidates = append(candidates, i)
	}

	// Each floor loses less than a cent, so fewer cents are missing than there are
	// positive buckets.
	missing := int(payment.Sub(allocated).Shift(minorUnitPlaces).IntPart())
	sort.SliceStable(candidates, func(a, b int) bool {
		fa, fb := fractions[candidates[a]], fractions[candidates[b]]
		if !fa.Equal(fb) {
			return fa.GreaterThan(fb)
		}
		return candidates[a] > candidates[b]
	})
	cent := decimal.New(1, -minorUnitPlaces)
	for _, i := range candidates[:min(missing, len(candidates))] {
		shares[i].Amount = shares[i].Amount.Add(cent)
	}

	return Distribution{RecordID: record.ID, Amount: payment, Shares: shares}, nil
}
