package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryInput describes a ledger entry before it gets an ID and timestamp.
type EntryInput struct {
	IdempotencyKey string
	Type           EntryType
	Amount         decimal.Decimal
	SourceBucket   string
	RecordID       string
	Breakdown      []BreakdownLine
	Note           string
}

// Recorder builds immutable ledger entries. Now and NewID default to the wall clock
// and random UUIDs; tests replace them.
type Recorder struct {
	Now   func() time.Time
	NewID func() string
}

// NewRecorder returns a Recorder using time.Now and uuid.NewString.
func NewRecorder() *Recorder {
	return &Recorder{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

var defaultRecorder = NewRecorder()

// RecordTransaction builds a ledger entry with the default Recorder.
func RecordTransaction(in EntryInput) (Transaction, error) {
	return defaultRecorder.Record(in)
}

// Record validates in and returns the entry. The full breakdown is always kept and
// must sum to the amount.
func (r *Recorder) Record(in EntryInput) (Transaction, error) {
	switch in.Type {
	case EntryIncome, EntryExpense, EntryPayment, EntryTransfer:
	default:
		return Transaction{}, reject(ErrUnbalancedEntry, "unknown entry type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return Transaction{}, reject(ErrInvalidAmount, "entry amount must be positive, got %s", in.Amount.String())
	}
	if len(in.Breakdown) == 0 {
		return Transaction{}, reject(ErrUnbalancedEntry, "entry has no breakdown")
	}

	sum := decimal.Zero
	lines := make([]BreakdownLine, len(in.Breakdown))
	for i, l := range in.Breakdown {
		if l.Target == "" {
			return Transaction{}, reject(ErrUnbalancedEntry, "breakdown line %d has no target", i)
		}
		if l.Amount.IsNegative() {
			return Transaction{}, reject(ErrUnbalancedEntry, "breakdown line %d is negative", i)
		}
		sum = sum.Add(l.Amount)
		lines[i] = l
	}
	if !sum.Equal(in.Amount) {
		return Transaction{}, reject(ErrUnbalancedEntry, "breakdown sums to %s, amount is %s", sum.StringFixed(2), in.Amount.StringFixed(2))
	}

	return Transaction{
		ID:             r.NewID(),
		IdempotencyKey: in.IdempotencyKey,
		Type:           in.Type,
		Amount:         in.Amount,
		SourceBucket:   in.SourceBucket,
		RecordID:       in.RecordID,
		Breakdown:      lines,
		Note:           in.Note,
		CreatedAt:      r.Now(),
	}, nil
}

// BreakdownFromDistribution turns distribution shares into breakdown lines, keeping
// zero shares so the entry shows every bucket of the record.
func BreakdownFromDistribution(d Distribution) []BreakdownLine {
	lines := make([]BreakdownLine, len(d.Shares))
	for i, s := range d.Shares {
		lines[i] = BreakdownLine{Target: s.BucketID, Amount: s.Amount}
	}
	return lines
}
