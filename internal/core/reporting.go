package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatementLine is one ledger entry as seen from a single bucket.
// RunningBalance is the bucket's capital after this entry, replayed from zero.
type StatementLine struct {
	EntryID        string          `json:"entry_id"`
	Date           time.Time       `json:"date"`
	Type           EntryType       `json:"type"`
	RecordID       string          `json:"record_id,omitempty"`
	Note           string          `json:"note"`
	In             decimal.Decimal `json:"in"`
	Out            decimal.Decimal `json:"out"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// BucketStatement builds the statement of bucketID from entries in ledger order.
// from and to are optional (zero means unbounded); entries before from still count
// towards the running balance.
func BucketStatement(entries []Transaction, bucketID string, from, to time.Time) []StatementLine {
	var lines []StatementLine
	running := decimal.Zero
	for _, e := range entries {
		in, out := decimal.Zero, decimal.Zero
		for _, l := range e.Breakdown {
			if l.Target == bucketID {
				in = in.Add(l.Amount)
			}
		}
		if e.SourceBucket == bucketID {
			out = e.Amount
		}
		if in.IsZero() && out.IsZero() {
			continue
		}
		running = running.Add(in).Sub(out)

		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		lines = append(lines, StatementLine{
			EntryID:        e.ID,
			Date:           e.CreatedAt,
			Type:           e.Type,
			RecordID:       e.RecordID,
			Note:           e.Note,
			In:             in,
			Out:            out,
			RunningBalance: running,
		})
	}
	return lines
}

// Summary is the dashboard view of the business.
type Summary struct {
	Buckets []Bucket `json:"buckets"`
	// Cash is the capital of all spendable (account) buckets.
	Cash decimal.Decimal `json:"cash"`
	// Stock is the capital of all fund buckets.
	Stock              decimal.Decimal `json:"stock"`
	Receivable         decimal.Decimal `json:"receivable"`
	Payable            decimal.Decimal `json:"payable"`
	OpenSales          int             `json:"open_sales"`
	OpenPurchaseOrders int             `json:"open_purchase_orders"`
}

// Summarize derives the dashboard summary from buckets and records.
func Summarize(buckets []Bucket, records []Record) Summary {
	s := Summary{
		Buckets:    buckets,
		Cash:       decimal.Zero,
		Stock:      decimal.Zero,
		Receivable: decimal.Zero,
		Payable:    decimal.Zero,
	}
	for _, b := range buckets {
		if b.Kind == BucketKindFund {
			s.Stock = s.Stock.Add(b.Capital)
		} else {
			s.Cash = s.Cash.Add(b.Capital)
		}
	}
	for _, r := range records {
		if r.Status == StatusPaid {
			continue
		}
		switch r.Kind {
		case RecordKindSale:
			s.Receivable = s.Receivable.Add(r.Outstanding())
			s.OpenSales++
		case RecordKindPurchaseOrder:
			s.Payable = s.Payable.Add(r.Outstanding())
			s.OpenPurchaseOrders++
		}
	}
	return s
}

// BucketStatement returns the statement of one bucket between from and to.
func (l *Ledger) BucketStatement(ctx context.Context, bucketID string, from, to time.Time) ([]StatementLine, error) {
	if _, err := l.store.GetBucket(ctx, bucketID); err != nil {
		return nil, err
	}
	entries, err := l.store.ListEntries(ctx, EntryFilter{BucketID: bucketID})
	if err != nil {
		return nil, err
	}
	return BucketStatement(entries, bucketID, from, to), nil
}

// Summary returns the dashboard summary.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	buckets, err := l.store.ListBuckets(ctx)
	if err != nil {
		return Summary{}, err
	}
	recs, err := l.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(buckets, recs), nil
}
