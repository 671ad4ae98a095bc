package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DeriveStatus is the only place a record's status is decided.
func DeriveStatus(paid, total decimal.Decimal) RecordStatus {
	switch {
	case total.IsPositive() && paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// PaymentResult holds the post-payment state. Inputs to ApplyPayment are never
// mutated; the caller persists these copies.
type PaymentResult struct {
	Record  Record
	Buckets []Bucket // every bucket whose balance changed, source first
}

// Bucket returns the updated copy of the bucket with the given ID.
func (r PaymentResult) Bucket(id string) (Bucket, bool) {
	for _, b := range r.Buckets {
		if b.ID == id {
			return b, true
		}
	}
	return Bucket{}, false
}

// ApplyPayment applies a computed distribution to a record and its buckets.
// source is the bucket the money leaves (nil when it comes from outside, e.g. a client).
// targets must hold every bucket named in the distribution.
//
// Every check runs before any effect is produced, so a failed call leaves nothing
// half-applied. ApplyPayment does not deduplicate; the caller checks the
// transaction's idempotency key first.
func ApplyPayment(record Record, dist Distribution, source *Bucket, targets map[string]Bucket) (PaymentResult, error) {
	amount := dist.Amount
	if !amount.IsPositive() {
		return PaymentResult{}, reject(ErrInvalidAmount, "payment must be positive, got %s", amount.String())
	}
	if dist.RecordID != "" && dist.RecordID != record.ID {
		return PaymentResult{}, reject(ErrInvalidRecord, "distribution for %s applied to record %s", dist.RecordID, record.ID)
	}
	if !dist.Sum().Equal(amount) {
		return PaymentResult{}, reject(ErrUnbalancedEntry, "shares sum to %s, payment is %s", dist.Sum().StringFixed(2), amount.StringFixed(2))
	}
	if outstanding := record.Outstanding(); amount.GreaterThan(outstanding) {
		return PaymentResult{}, reject(ErrOverpayment, "cannot pay %s on record %s: outstanding balance is %s",
			amount.StringFixed(2), record.ID, outstanding.StringFixed(2))
	}
	for _, s := range dist.Shares {
		if s.Amount.IsNegative() {
			return PaymentResult{}, reject(ErrInvalidAmount, "negative share %s for %s", s.Amount.StringFixed(2), s.BucketID)
		}
		if _, ok := targets[s.BucketID]; !ok {
			return PaymentResult{}, reject(ErrNotFound, "bucket %s not supplied for record %s", s.BucketID, record.ID)
		}
		if source != nil && s.BucketID == source.ID {
			return PaymentResult{}, reject(ErrInvalidRecord, "bucket %s cannot be both source and target", s.BucketID)
		}
	}
	if source != nil {
		if err := checkFunds(*source, amount); err != nil {
			return PaymentResult{}, err
		}
	}

	result := PaymentResult{Record: record}
	result.Record.PaidToDate = decimal.Min(record.PaidToDate.Add(amount), record.Total)
	result.Record.Status = DeriveStatus(result.Record.PaidToDate, result.Record.Total)

	if source != nil {
		src := *source
		src.Capital = src.Capital.Sub(amount)
		src.TotalExpenses = src.TotalExpenses.Add(amount)
		result.Buckets = append(result.Buckets, src)
	}

	// A bucket may appear in more than one share; fold them into one copy.
	updated := make(map[string]int)
	for _, s := range dist.Shares {
		if s.Amount.IsZero() {
			continue
		}
		idx, seen := updated[s.BucketID]
		if !seen {
			result.Buckets = append(result.Buckets, targets[s.BucketID])
			idx = len(result.Buckets) - 1
			updated[s.BucketID] = idx
		}
		b := &result.Buckets[idx]
		b.Capital = b.Capital.Add(s.Amount)
		b.HistoricCapital = b.HistoricCapital.Add(s.Amount)
	}

	return result, nil
}

// ApplyMovement applies a record-less money movement and returns the updated buckets,
// source first. Expenses need only source, incomes only target, transfers both.
func ApplyMovement(kind EntryType, source, target *Bucket, amount decimal.Decimal) ([]Bucket, error) {
	if !amount.IsPositive() {
		return nil, reject(ErrInvalidAmount, "amount must be positive, got %s", amount.String())
	}
	if !amount.Equal(amount.Round(minorUnitPlaces)) {
		return nil, reject(ErrInvalidAmount, "amount %s has more than %d decimal places", amount.String(), minorUnitPlaces)
	}

	switch kind {
	case EntryExpense:
		if source == nil {
			return nil, reject(ErrNotFound, "expense needs a source bucket")
		}
		if err := checkFunds(*source, amount); err != nil {
			return nil, err
		}
		src := *source
		src.Capital = src.Capital.Sub(amount)
		src.TotalExpenses = src.TotalExpenses.Add(amount)
		return []Bucket{src}, nil

	case EntryIncome:
		if target == nil {
			return nil, reject(ErrNotFound, "income needs a target bucket")
		}
		dst := *target
		dst.Capital = dst.Capital.Add(amount)
		dst.HistoricCapital = dst.HistoricCapital.Add(amount)
		return []Bucket{dst}, nil

	case EntryTransfer:
		if source == nil || target == nil {
			return nil, reject(ErrInvalidTransfer, "transfer needs both origin and destination")
		}
		if source.ID == target.ID {
			return nil, reject(ErrInvalidTransfer, "cannot transfer from %s to itself", source.ID)
		}
		if err := checkFunds(*source, amount); err != nil {
			return nil, err
		}
		src, dst := *source, *target
		src.Capital = src.Capital.Sub(amount)
		src.TransfersOut = src.TransfersOut.Add(amount)
		dst.Capital = dst.Capital.Add(amount)
		dst.HistoricCapital = dst.HistoricCapital.Add(amount)
		dst.TransfersIn = dst.TransfersIn.Add(amount)
		return []Bucket{src, dst}, nil
	}

	return nil, fmt.Errorf("unsupported movement type %q", kind)
}

func checkFunds(b Bucket, amount decimal.Decimal) error {
	if b.Kind == BucketKindFund {
		return nil
	}
	if b.Capital.LessThan(amount) {
		return reject(ErrInsufficientFunds, "bucket %s has %s, needs %s", b.ID, b.Capital.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}
