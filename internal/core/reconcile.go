package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BucketDrift is a bucket whose stored capital differs from the replayed ledger.
type BucketDrift struct {
	BucketID string          `json:"bucket_id"`
	Stored   decimal.Decimal `json:"stored"`
	Replayed decimal.Decimal `json:"replayed"`
}

// RecordDrift is a record whose stored paid-to-date differs from its payment entries.
type RecordDrift struct {
	RecordID string          `json:"record_id"`
	Stored   decimal.Decimal `json:"stored"`
	Replayed decimal.Decimal `json:"replayed"`
}

// ReconcileReport is the result of replaying the ledger from zero.
type ReconcileReport struct {
	Entries         int           `json:"entries"`
	BucketDrifts    []BucketDrift `json:"bucket_drifts"`
	RecordDrifts    []RecordDrift `json:"record_drifts"`
	UnbalancedEntry []string      `json:"unbalanced_entries"`
}

// OK reports whether the stored state matches the ledger.
func (r ReconcileReport) OK() bool {
	return len(r.BucketDrifts) == 0 && len(r.RecordDrifts) == 0 && len(r.UnbalancedEntry) == 0
}

// Reconcile replays entries from zero and compares the result with the stored
// bucket capitals and record paid-to-date amounts. Buckets start at zero, so any
// opening balance must itself be an income entry.
func Reconcile(buckets []Bucket, records []Record, entries []Transaction) ReconcileReport {
	capital := make(map[string]decimal.Decimal)
	paid := make(map[string]decimal.Decimal)
	report := ReconcileReport{Entries: len(entries)}

	for _, e := range entries {
		sum := decimal.Zero
		for _, l := range e.Breakdown {
			sum = sum.Add(l.Amount)
			if l.Target != ExternalTarget {
				capital[l.Target] = capital[l.Target].Add(l.Amount)
			}
		}
		if !sum.Equal(e.Amount) {
			report.UnbalancedEntry = append(report.UnbalancedEntry, e.ID)
		}
		if e.SourceBucket != "" {
			capital[e.SourceBucket] = capital[e.SourceBucket].Sub(e.Amount)
		}
		if e.RecordID != "" {
			paid[e.RecordID] = paid[e.RecordID].Add(e.Amount)
		}
	}

	known := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		known[b.ID] = true
		if replayed := capital[b.ID]; !replayed.Equal(b.Capital) {
			report.BucketDrifts = append(report.BucketDrifts, BucketDrift{BucketID: b.ID, Stored: b.Capital, Replayed: replayed})
		}
	}
	for id, replayed := range capital {
		if !known[id] && !replayed.IsZero() {
			report.BucketDrifts = append(report.BucketDrifts, BucketDrift{BucketID: id, Stored: decimal.Zero, Replayed: replayed})
		}
	}
	sort.Slice(report.BucketDrifts, func(i, j int) bool { return report.BucketDrifts[i].BucketID < report.BucketDrifts[j].BucketID })

	for _, r := range records {
		if replayed := paid[r.ID]; !replayed.Equal(r.PaidToDate) {
			report.RecordDrifts = append(report.RecordDrifts, RecordDrift{RecordID: r.ID, Stored: r.PaidToDate, Replayed: replayed})
		}
	}

	return report
}
